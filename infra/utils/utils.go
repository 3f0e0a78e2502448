package utils

import (
	"context"
	"errors"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"unicode"
)

// GetHostIP return local IP
func GetHostIP() (string, error) {
	addrs, err := net.InterfaceAddrs()

	if err != nil {
		return "", err
	}

	for _, address := range addrs {
		if ipnet, ok := address.(*net.IPNet); ok && !ipnet.IP.IsLoopback() {
			if ipnet.IP.To4() != nil {
				return ipnet.IP.String(), nil
			}
		}
	}

	return "", errors.New("can not find the host ip address")
}

// NewContextWithSignal derive a context cancelled when one of signals arrives
func NewContextWithSignal(parent context.Context, signals ...os.Signal) context.Context {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, signals...)
	ctx, cancel := context.WithCancel(parent)

	go func() {
		select {
		case <-ch:
		case <-ctx.Done():
		}
		signal.Stop(ch)
		cancel()
	}()
	return ctx
}

// GetEnvWithDefault a function to return system env value
// return default value when env is empty
func GetEnvWithDefault[T string | int | int32](env string, def T, parse func(val string) (T, error)) T {
	if val := os.Getenv(env); val != "" {
		if res, err := parse(val); err == nil {
			return res
		}
	}
	return def
}

// PathJoin join path elements with slash, always rooted
func PathJoin(elem ...string) string {
	p := filepath.ToSlash(filepath.Join(elem...))
	if !strings.HasPrefix(p, "/") {
		return "/" + p
	}
	return p
}

// LowerCamel return the lower-camel form of a method name, e.g.
// "GetBook" -> "getBook", "HTTPGet" -> "httpGet", "echo" -> "echo".
func LowerCamel(name string) string {
	if name == "" {
		return name
	}
	runes := []rune(name)
	for i := 0; i < len(runes); i++ {
		if !unicode.IsUpper(runes[i]) {
			break
		}
		// keep the last capital of a leading acronym when a word follows
		if i > 0 && i+1 < len(runes) && !unicode.IsUpper(runes[i+1]) {
			break
		}
		runes[i] = unicode.ToLower(runes[i])
	}
	return string(runes)
}
