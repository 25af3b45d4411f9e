package main

import (
	"flag"
	"fmt"
	"io"
	"net"
	"os"

	"realmsdb/pkg/config"

	"github.com/sirupsen/logrus"
)

// Writes everything from src to dest.
func mustCopy(dst io.Writer, src io.Reader) {
	if _, err := io.Copy(dst, src); err != nil {
		logrus.Fatal(err)
	}
}

// Connect to the database server and send messages to it.
func main() {
	var host = flag.String("h", "localhost", "server host")
	var port = flag.Int("p", 0, "port number")
	flag.Parse()
	if *port == 0 {
		fmt.Println("usage: ./" + config.DBName + "_client [-h <host>] -p <port>")
		return
	}
	conn, err := net.Dial("tcp", net.JoinHostPort(*host, fmt.Sprint(*port)))
	if err != nil {
		logrus.Fatal(err)
	}
	defer conn.Close()
	go mustCopy(os.Stdout, conn)
	mustCopy(conn, os.Stdin)
}
