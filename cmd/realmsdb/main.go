package main

import (
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"realmsdb/pkg/config"
	"realmsdb/pkg/database"
	"realmsdb/pkg/logging"
	"realmsdb/pkg/repl"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Default port 7325 (REAL).
const DEFAULT_PORT int = 7325

// Listens for SIGINT or SIGTERM and closes the database.
func setupCloseHandler(db *database.Database, log *logging.Logger) {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-c
		log.Info("close handler invoked")
		if err := db.Close(); err != nil {
			log.WithError(err).Error("closing database")
		}
		_ = log.Close()
		os.Exit(0)
	}()
}

// Start listening for connections at port `port`. Every connection runs
// its own REPL session under a fresh client id.
func startServer(r *repl.REPL, log *logging.Logger, prompt string, port int) error {
	handleConn := func(c net.Conn) {
		clientId := uuid.New()
		entry := log.WithFields(logrus.Fields{"client": clientId, "remote": c.RemoteAddr()})
		entry.Info("client connected")
		defer c.Close()
		r.Run(clientId, prompt, c, c)
		entry.Info("client disconnected")
	}
	listener, err := net.Listen("tcp", fmt.Sprintf(":%v", port))
	if err != nil {
		return err
	}
	fmt.Printf("%v server started listening on localhost:%v\n", config.DBName,
		listener.Addr().(*net.TCPAddr).Port)
	for {
		conn, err := listener.Accept()
		if err != nil {
			log.WithError(err).Warn("accept failed")
			continue
		}
		go handleConn(conn)
	}
}

// Start the database.
func main() {
	var configFlag = flag.String("config", "", "YAML config file")
	var dbFlag = flag.String("db", "", "data folder, overrides the config file")
	var promptFlag = flag.Bool("c", true, "use prompt?")
	var portFlag = flag.Int("p", 0, "serve the REPL over TCP on this port (0 runs it on stdin)")
	var serveFlag = flag.Bool("serve", false, "serve on the default port")
	flag.Parse()

	cfg, err := config.Load(*configFlag)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if *dbFlag != "" {
		cfg.DataDir = *dbFlag
	}

	log, err := logging.New(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer log.Close()

	db, err := database.Open(cfg, nil, log.Logger)
	if err != nil {
		log.WithError(err).Fatal("opening database")
	}
	defer db.Close()
	setupCloseHandler(db, log)

	r, err := repl.CombineRepls([]*repl.REPL{database.DatabaseRepl(db)})
	if err != nil {
		log.WithError(err).Fatal("building repl")
	}
	prompt := config.GetPrompt(*promptFlag)

	port := *portFlag
	if port == 0 && *serveFlag {
		port = DEFAULT_PORT
	}
	if port != 0 {
		if err := startServer(r, log, prompt, port); err != nil {
			log.WithError(err).Error("server stopped")
		}
		return
	}
	r.Run(uuid.New(), prompt, nil, nil)
}
