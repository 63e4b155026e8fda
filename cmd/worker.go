package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/quote-engine/internal/audit"
	"github.com/sells-group/quote-engine/internal/pipeline"
	"github.com/sells-group/quote-engine/internal/queue"
	redis "github.com/redis/go-redis/v9"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Start a background worker consuming quotation runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		// Progress events go to both the log and the Redis channel the API
		// consumers subscribe to.
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		sink := audit.MultiSink{audit.LogSink{}, audit.NewRedisSink(rdb)}

		search, scraper := pipeline.DefaultFactories(cfg)
		runner := pipeline.New(cfg, st, sink, search, scraper)

		srv := queue.NewServer(queue.RedisOpt(cfg), cfg.Queue.Concurrency, queue.NewHandler(runner))

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down worker")
			srv.Shutdown()
		}()

		zap.L().Info("starting worker",
			zap.String("redis", cfg.Redis.Addr),
			zap.Int("concurrency", cfg.Queue.Concurrency))
		return srv.Run()
	},
}

func init() {
	rootCmd.AddCommand(workerCmd)
}
