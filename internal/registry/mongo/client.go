package mongo

import (
	"context"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.opentelemetry.io/contrib/instrumentation/go.mongodb.org/mongo-driver/mongo/otelmongo"
)

const healthCheckInterval = 30 * time.Second

// Connect opens the process-wide Mongo client. The pool is created once at
// startup and owned by the caller for the process lifetime; per-request
// code never dials or pings.
func Connect(ctx context.Context, uri string, extra ...*options.ClientOptions) (*mongo.Client, error) {
	base := options.Client().
		ApplyURI(uri).
		SetMaxPoolSize(10).
		SetMinPoolSize(2).
		SetMaxConnIdleTime(30 * time.Second).
		SetConnectTimeout(10 * time.Second).
		SetRetryWrites(true).
		SetRetryReads(true).
		SetMonitor(otelmongo.NewMonitor())
	opts := append([]*options.ClientOptions{base}, extra...)

	client, err := mongo.Connect(ctx, opts...)
	if err != nil {
		return nil, err
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return client, nil
}

// StartHealthCheck pings the deployment on a bounded interval instead of
// per call, logging failures for operability. It returns when ctx is done.
func StartHealthCheck(ctx context.Context, client *mongo.Client, logger *slog.Logger) {
	ticker := time.NewTicker(healthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
			err := client.Ping(pingCtx, nil)
			cancel()
			if err != nil {
				logger.Warn("mongodb health check failed", slog.String("error", err.Error()))
			}
		}
	}
}
