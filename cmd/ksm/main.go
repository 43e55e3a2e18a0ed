// Package main is the ksm command-line client: it binds a device from a
// one-time token and reads or writes secret fields addressed by notation.
package main

import (
	"cmp"
	"context"
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/Keeper-Security/secrets-manager-sub007/internal/client"
	"github.com/Keeper-Security/secrets-manager-sub007/internal/config"
	"github.com/Keeper-Security/secrets-manager-sub007/internal/logger"
	"github.com/Keeper-Security/secrets-manager-sub007/internal/storage"
	"github.com/Keeper-Security/secrets-manager-sub007/internal/transmission"
)

var (
	// version holds the build version set via ldflags.
	version string
	// buildDate holds the build timestamp set via ldflags.
	buildDate string
)

const usage = `Usage:
  ksm [flags] list
  ksm [flags] get <notation>
  ksm [flags] set <record-uid> <field> <value>
  ksm [flags] delete <record-uid>
`

func main() {
	options := config.Parse()

	log := logger.New()
	if err := log.Init(options.LogLevel); err != nil {
		fmt.Fprintln(os.Stderr, "init logger:", err)
		os.Exit(1)
	}
	defer func() { _ = log.Log.Sync() }()
	zapLogger := log.Log

	zapLogger.Debug("build info",
		zap.String("version", cmp.Or(version, "N/A")),
		zap.String("date", cmp.Or(buildDate, "N/A")))

	store, err := openStorage(options)
	if err != nil {
		zapLogger.Fatal("open credential store", zap.Error(err))
	}

	var ring *transmission.KeyRing
	if options.ServerKey != "" {
		ring, err = transmission.NewKeyRing(map[int]string{1: options.ServerKey})
		if err != nil {
			zapLogger.Fatal("parse server key override", zap.Error(err))
		}
	}

	sm, err := client.New(client.Options{
		Storage:           store,
		Token:             options.Token,
		Hostname:          options.Hostname,
		KeyRing:           ring,
		Logger:            zapLogger,
		CacheLastResponse: options.Cache,
	})
	if err != nil {
		zapLogger.Fatal("init secrets manager", zap.Error(err))
	}

	ctx := context.Background()
	args := flag.Args()
	if len(args) == 0 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	switch args[0] {
	case "list":
		v, err := sm.GetSecrets(ctx)
		if err != nil {
			zapLogger.Fatal("fetch secrets", zap.Error(err))
		}
		for _, rec := range v.RecordList() {
			fmt.Printf("%s\t%s\t%s\trev %d\n", rec.UID, rec.Data.Type, rec.Data.Title, rec.Revision)
		}

	case "get":
		if len(args) != 2 {
			fmt.Fprint(os.Stderr, usage)
			os.Exit(2)
		}
		value, err := sm.GetNotation(ctx, args[1])
		if err != nil {
			zapLogger.Fatal("resolve notation", zap.Error(err))
		}
		fmt.Println(value)

	case "set":
		if len(args) != 4 {
			fmt.Fprint(os.Stderr, usage)
			os.Exit(2)
		}
		uid, field, value := args[1], args[2], args[3]
		v, err := sm.GetSecrets(ctx, uid)
		if err != nil {
			zapLogger.Fatal("fetch record", zap.Error(err))
		}
		rec, ok := v.Records[uid]
		if !ok {
			zapLogger.Fatal("record not found", zap.String("uid", uid))
		}
		if !rec.Data.SetFieldValue(field, value) && !rec.Data.SetCustomFieldValue(field, value) {
			zapLogger.Fatal("field not found", zap.String("field", field))
		}
		if err := sm.UpdateSecret(ctx, rec); err != nil {
			zapLogger.Fatal("update record", zap.Error(err))
		}
		fmt.Printf("updated %s to revision %d\n", uid, rec.Revision)

	case "delete":
		if len(args) != 2 {
			fmt.Fprint(os.Stderr, usage)
			os.Exit(2)
		}
		if err := sm.DeleteSecret(ctx, args[1]); err != nil {
			zapLogger.Fatal("delete record", zap.Error(err))
		}
		fmt.Println("deleted", args[1])

	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
}

// openStorage builds the credential store selected by configuration.
func openStorage(options *config.Options) (storage.KeyValueStorage, error) {
	switch options.StorageType {
	case "file":
		return storage.NewFileStorage(options.StoragePath), nil
	case "bolt":
		return storage.OpenBolt(options.StoragePath)
	case "env":
		return storage.NewEnvStorage(), nil
	case "postgres":
		return storage.OpenPostgres(options.PostgresDSN, options.Profile)
	}
	return nil, fmt.Errorf("unknown storage type %q", options.StorageType)
}
