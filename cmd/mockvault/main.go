// Package main runs the fake secrets backend locally for development and
// demos: it prints a one-time token and the key ring hostname to use with
// the ksm client.
package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"

	"go.uber.org/zap"

	"github.com/Keeper-Security/secrets-manager-sub007/internal/logger"
	"github.com/Keeper-Security/secrets-manager-sub007/internal/mockserver"
	"github.com/Keeper-Security/secrets-manager-sub007/internal/vault"
)

func main() {
	addr := flag.String("a", "localhost:8090", "listen address")
	level := flag.String("log", "info", "log level")
	flag.Parse()

	log := logger.New()
	if err := log.Init(*level); err != nil {
		fmt.Fprintln(os.Stderr, "init logger:", err)
		os.Exit(1)
	}
	defer func() { _ = log.Log.Sync() }()
	zapLogger := log.Log

	svc, err := mockserver.NewService(zapLogger)
	if err != nil {
		zapLogger.Fatal("init service", zap.Error(err))
	}
	svc.SetBaseURL("http://" + *addr)

	// seed a demo vault so a freshly bound client has something to read
	folderUID, err := svc.AddFolder("")
	if err != nil {
		zapLogger.Fatal("seed folder", zap.Error(err))
	}
	recordUID, err := svc.AddRecord(folderUID, vault.RecordData{
		Title: "Demo Login",
		Type:  "login",
		Fields: []vault.Field{
			{Type: "login", Value: []any{"demo@example.com"}},
			{Type: "password", Value: []any{"correct horse battery staple"}},
		},
		Notes: "seeded by mockvault",
	})
	if err != nil {
		zapLogger.Fatal("seed record", zap.Error(err))
	}

	token, err := svc.NewToken("US")
	if err != nil {
		zapLogger.Fatal("issue token", zap.Error(err))
	}

	serverKey, err := svc.ServerPublicKey()
	if err != nil {
		zapLogger.Fatal("export server key", zap.Error(err))
	}

	fmt.Printf("listening on http://%s\n", *addr)
	fmt.Printf("one-time token: %s\n", token)
	fmt.Printf("demo record:    %s (try: %s/field/login)\n", recordUID, recordUID)
	fmt.Printf("client flags:   -host http://%s -serverkey %s\n", *addr, serverKey)

	if err := http.ListenAndServe(*addr, svc.Router()); err != nil {
		zapLogger.Fatal("serve", zap.Error(err))
	}
}
