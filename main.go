package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"zh.xyz/dv/hubsync/handlers"
	"zh.xyz/dv/hubsync/routes"
	"zh.xyz/dv/hubsync/service"
	"zh.xyz/dv/hubsync/utils"
)

const version = "0.3.0"

var cfgPath string

var rootCmd = &cobra.Command{
	Use:          "hubsync",
	Short:        "HubSpot -> MySQL 增量同步",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "config.json", "配置文件路径")
	rootCmd.AddCommand(serveCmd(), syncCmd(), associationsCmd(), schemaCmd(), mcpCmd(), hashKeyCmd())
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func windowFlags(cmd *cobra.Command, opts *service.WindowOptions) {
	cmd.Flags().IntVar(&opts.Days, "days", 0, "同步最近 N 天（含今天），默认 365")
	cmd.Flags().StringVar(&opts.Month, "month", "", "同步整月，YYYY-MM")
	cmd.Flags().StringVar(&opts.Start, "start", "", "开始时间，YYYY-MM-DD 或 ISO 8601")
	cmd.Flags().StringVar(&opts.End, "end", "", "结束时间，只有日期时包含整天")
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "启动 HTTP 服务和定时同步",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cfgPath)
			if err != nil {
				return err
			}
			defer a.close()
			return serve(cmd.Context(), a)
		},
	}
}

func serve(ctx context.Context, a *app) error {
	cfg := a.cfg
	if cfg.JWT.Secret == "" {
		a.log.Warn("未配置 jwt.secret，受保护的接口将无法访问")
	}

	opts, err := service.OptionsFromConfig(cfg.Sync)
	if err != nil {
		return err
	}

	// 定时同步
	if cfg.Sync.Schedule != "" {
		scheduler := service.NewScheduler(a.sync, cfg.Sync.ScheduleDays, opts.Location, a.log.Named("cron"))
		if _, err := scheduler.Add(cfg.Sync.Schedule); err != nil {
			return err
		}
		scheduler.Start()
		defer func() { <-scheduler.Stop().Done() }()
	}

	// 设置Gin模式
	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())

	routes.SetupRoutes(r, routes.Handlers{
		Auth:    &handlers.AuthHandler{APIKeyHash: cfg.JWT.APIKeyHash, Secret: cfg.JWT.Secret, TTL: time.Duration(cfg.JWT.ExpireTime) * time.Hour},
		Health:  &handlers.HealthHandler{Checks: a.healthChecks()},
		Sync:    &handlers.SyncHandler{Sync: a.sync, Runs: a.recorder, DefaultDays: cfg.Sync.DefaultDays, Location: opts.Location},
		Records: &handlers.RecordHandler{Store: a.store},
		Schema:  &handlers.SchemaHandler{Schema: a.schema, Integrity: a.store},
		MCP:     a.mcp().HTTPHandler(),
		Secret:  cfg.JWT.Secret,
		Logger:  a.log.Named("http"),
	})

	port := cfg.Server.Port
	if port == "" {
		port = "8080"
	}
	srv := &http.Server{Addr: ":" + port, Handler: r}

	errCh := make(chan error, 1)
	go func() {
		a.log.Info("服务器启动", zap.String("port", port))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("服务器启动失败: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	a.log.Info("正在关闭服务器")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

const syncExample = `  hubsync sync --days 7
  hubsync sync --month 2024-02
  hubsync sync --start 2024-01-01 --end 2024-01-31`

func syncCmd() *cobra.Command {
	var opts service.WindowOptions
	cmd := &cobra.Command{
		Use:     "sync",
		Short:   "执行一次完整同步",
		Example: syncExample,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cfgPath)
			if err != nil {
				return err
			}
			defer a.close()

			res, err := a.sync.Run(cmd.Context(), service.SyncOptions{WindowOptions: opts, Trigger: "cli"})
			if res != nil {
				if perr := printJSON(res); perr != nil {
					return perr
				}
			}
			return err
		},
	}
	windowFlags(cmd, &opts)
	return cmd
}

func associationsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "associations [contact-id...]",
		Short: "只同步联系人-交易关联，不指定 ID 时自动挑选",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cfgPath)
			if err != nil {
				return err
			}
			defer a.close()

			res, err := a.sync.SyncAssociations(cmd.Context(), args, service.SyncOptions{Trigger: "cli"})
			if res != nil {
				if perr := printJSON(res); perr != nil {
					return perr
				}
			}
			return err
		},
	}
}

func schemaCmd() *cobra.Command {
	var ensure bool
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "对比属性目录与本地表结构",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cfgPath)
			if err != nil {
				return err
			}
			defer a.close()

			if ensure {
				report, err := a.schema.EnsureCatalogColumns(cmd.Context())
				if err != nil {
					return err
				}
				return printJSON(report)
			}
			report, err := a.schema.Report(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(report)
		},
	}
	cmd.Flags().BoolVar(&ensure, "ensure", false, "按属性目录补齐扩展表的列")
	return cmd
}

func mcpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "以 stdio 方式运行 MCP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cfgPath)
			if err != nil {
				return err
			}
			defer a.close()
			return a.mcp().RunStdio(cmd.Context())
		},
	}
}

func hashKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-key <api-key>",
		Short: "生成 API key 的 bcrypt 哈希，写入 jwt.api_key_hash",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := utils.HashKey(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
}
