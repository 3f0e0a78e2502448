package main

import (
	"context"
	"fmt"
	"io"
	"time"

	grpcserver "github.com/NirvanaNimbusa/grpc-server-go"
	"github.com/NirvanaNimbusa/grpc-server-go/example/echo"
)

func main() {
	cc, err := grpcserver.Dial("localhost:12345", grpcserver.Insecure())
	if err != nil {
		panic(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()

	resp, err := cc.Invoke(ctx, echo.ServiceName, &echo.UnaryEcho, &echo.Message{Value: "hello", Value2: 1})
	if err != nil {
		panic(err)
	}
	fmt.Printf("unary echo: %+v\n", resp.(*echo.Message))

	call, err := cc.NewCall(ctx, echo.ServiceName, &echo.ServerStreamingEcho)
	if err != nil {
		panic(err)
	}
	if err := call.Send(&echo.Message{Value: "stream"}); err != nil {
		panic(err)
	}
	if err := call.CloseSend(); err != nil {
		panic(err)
	}
	for {
		v, err := call.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			panic(err)
		}
		fmt.Printf("stream echo: %+v\n", v.(*echo.Message))
	}
	st, err := call.Finish()
	if err != nil {
		panic(err)
	}
	fmt.Println("stream status:", st.Code())
}
