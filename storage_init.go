package main

import (
	"context"
	"errors"
	"os"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const queueAlreadyExists = "QueueAlreadyExists"

func newStorageInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "storage-init",
		Short: "Create tables, schema and queues for the configured backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(os.Getenv)
			if err != nil {
				return err
			}
			return initStorage(cmd.Context(), cfg, newLogger(cfg))
		},
	}
}

func initStorage(ctx context.Context, cfg config, logger *log.Logger) error {
	logger.WithField("backend", cfg.Backend).Info("storage init starting")

	if cfg.Backend == backendTables {
		if err := createTables(ctx, cfg.StorageConn, []string{cfg.BoardsTable, cfg.TasksTable, cfg.UsersTable}); err != nil {
			return err
		}
	} else {
		// opening a SQL store applies its schema
		_, closeStore, err := openStore(ctx, cfg)
		if err != nil {
			return err
		}
		closeStore()
	}

	if cfg.MailQueue != "" {
		if err := createQueues(ctx, cfg.StorageConn, []string{cfg.MailQueue}); err != nil {
			return err
		}
	}

	logger.Info("storage init complete")
	return nil
}

func createTables(ctx context.Context, connStr string, names []string) error {
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, nil)
	if err != nil {
		return err
	}
	for _, name := range names {
		if name == "" {
			continue
		}
		if _, err := svc.NewClient(name).CreateTable(ctx, nil); err != nil && !hasErrorCode(err, string(aztables.TableAlreadyExists)) {
			return err
		}
	}
	return nil
}

func createQueues(ctx context.Context, connStr string, names []string) error {
	for _, name := range names {
		if name == "" {
			continue
		}
		q, err := azqueue.NewQueueClientFromConnectionString(connStr, name, nil)
		if err != nil {
			return err
		}
		if _, err := q.Create(ctx, nil); err != nil && !hasErrorCode(err, queueAlreadyExists) {
			return err
		}
	}
	return nil
}

func hasErrorCode(err error, code string) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.ErrorCode == code
}
