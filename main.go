package main

import (
	"context"
	"fmt"
	"os"

	"github.com/drone/signal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gopkg.in/alecthomas/kingpin.v2"

	"inferserve/config"
	qhttp "inferserve/http"
	"inferserve/logger"
	"inferserve/monitoring"
	"inferserve/pipeline"
	"inferserve/resources"
)

var version = "v0.1.0"

type command struct {
	configPath string
	envFile    string
}

func main() {
	c := new(command)

	app := kingpin.New("inferserve", "classification inference and explanation service")
	app.Flag("config", "path to the YAML configuration file").
		Default("config.yaml").
		StringVar(&c.configPath)
	app.Flag("env-file", "load environment variables from file").
		Default(".env").
		StringVar(&c.envFile)

	app.Command("serve", "serve /ping, /infer and /explain").
		Default().
		Action(c.serve)
	app.Command("check", "load the model resources and exit").
		Action(c.check)

	app.Version(version)
	kingpin.MustParse(app.Parse(os.Args[1:]))
}

func (c *command) serve(*kingpin.ParseContext) error {
	// 1. 加载配置
	cfg, err := config.Load(c.configPath, c.envFile)
	if err != nil {
		return err
	}

	// 2. 初始化日志
	lg, err := logger.New(cfg.Log)
	if err != nil {
		return err
	}
	defer lg.Close()

	// 3. 加载模型资源，失败时在监听端口之前退出
	bundle, err := resources.Load(cfg.Model, cfg.Explainer.Workers)
	if err != nil {
		logger.NewReporter(lg).Report(logger.ReportContext{Message: "Failed to load model resources", Err: err})
		return err
	}
	lg.Info("model resources loaded",
		zap.String("dir", cfg.Model.Dir),
		zap.Strings("features", bundle.Schema.FeatureNames()),
		zap.Strings("classes", bundle.Schema.TargetClasses()),
		zap.String("explanation_method", bundle.Explainer.Method()),
	)

	// 4. 启动HTTP服务
	metrics := monitoring.NewDefaultMetrics()
	runner := pipeline.NewRunner(bundle, lg.Logger, metrics)
	handler := qhttp.NewHandler(runner, lg, metrics).Router(cfg.Server)
	server := qhttp.NewServer(cfg.Server, handler, lg.Logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	// 5. 收到终止信号后优雅停机
	ctx = signal.WithContextFunc(ctx, func() {
		lg.Info("received signal, terminating process")
		cancel()
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(server.Start)
	g.Go(func() error {
		<-gctx.Done()
		return server.Stop(context.Background())
	})
	if err := g.Wait(); err != nil {
		lg.Error("server stopped with error", zap.Error(err))
		return err
	}
	lg.Info("exiting")
	return nil
}

func (c *command) check(*kingpin.ParseContext) error {
	cfg, err := config.Load(c.configPath, c.envFile)
	if err != nil {
		return err
	}
	bundle, err := resources.Load(cfg.Model, cfg.Explainer.Workers)
	if err != nil {
		return err
	}
	fmt.Printf("schema: %s (%d features, classes %v)\n",
		bundle.Schema.Title, len(bundle.Schema.Features), bundle.Schema.TargetClasses())
	fmt.Printf("preprocessor: %t\n", bundle.Preprocessor != nil)
	fmt.Printf("explainer: %s\n", bundle.Explainer.Method())
	return nil
}
