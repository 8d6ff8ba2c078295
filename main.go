package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/topohub/topohub/internal/config"
	"github.com/topohub/topohub/internal/logging"
	"github.com/topohub/topohub/internal/supervisor"
	"github.com/topohub/topohub/internal/version"
)

const defaultShutdownGrace = 10 * time.Second

// cliOptions 汇总 CLI 标志解析后的结果，便于在测试中注入。
type cliOptions struct {
	configPath  string
	checkOnly   bool
	planOnly    bool
	showVersion bool
}

var (
	stdOut io.Writer = os.Stdout
	stdErr io.Writer = os.Stderr

	// shutdownSignals 在测试中可替换为手动触发的 context。
	shutdownSignals = func() (context.Context, context.CancelFunc) {
		return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	}
)

func main() {
	opts, err := parseCLIFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(stdErr, err.Error())
		os.Exit(2)
	}
	os.Exit(run(opts))
}

// run 根据解析到的 CLI 选项执行业务流程，并返回退出码，方便测试。
func run(opts cliOptions) int {
	if opts.showVersion {
		printVersion()
		return 0
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(stdErr, "加载配置失败: %v\n", err)
		return 1
	}

	if opts.planOnly {
		return printPlan(cfg)
	}

	logger, err := logging.InitLogger(cfg.Global)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化日志失败: %v\n", err)
		return 1
	}

	instances := cfg.EffectiveInstances()
	if opts.checkOnly {
		fields := logging.BaseFields("check_config", opts.configPath)
		fields["instances"] = len(instances)
		fields["multi_server"] = cfg.Global.MultiServer
		fields["tls_instances"] = config.TLSInstances(instances)
		fields["result"] = "ok"
		logger.WithFields(fields).Info("配置校验通过")
		return 0
	}

	fields := logging.BaseFields("startup", opts.configPath)
	fields["instances"] = len(instances)
	fields["startup_mode"] = cfg.Global.StartupMode
	fields["tls_instances"] = config.TLSInstances(instances)
	fields["version"] = version.Full()
	logger.WithFields(fields).Info("配置加载完成")

	if err := serve(cfg, logger); err != nil {
		fmt.Fprintf(stdErr, "拓扑运行失败: %v\n", err)
		return 1
	}
	return 0
}

// serve 启动整个拓扑并阻塞到收到退出信号或某个实例意外停止。
func serve(cfg *config.Config, logger *logrus.Logger) error {
	ctx, stop := shutdownSignals()
	defer stop()

	sup, err := supervisor.New(supervisor.Options{Config: cfg, Logger: logger})
	if err != nil {
		return err
	}
	report, err := sup.Start(ctx)
	if err != nil {
		var startErr *supervisor.StartError
		if errors.As(err, &startErr) {
			logReport(logger, startErr.Report)
		}
		return err
	}
	logReport(logger, report)

	serveErr := make(chan error, 1)
	go func() { serveErr <- sup.Wait() }()

	var runErr error
	select {
	case <-ctx.Done():
		logger.WithFields(logrus.Fields{"action": "shutdown"}).Info("收到退出信号")
	case runErr = <-serveErr:
		logger.WithFields(logrus.Fields{"action": "shutdown"}).WithError(runErr).Error("实例意外停止")
	}

	grace := cfg.Global.ShutdownGrace.DurationValue()
	if grace <= 0 {
		grace = defaultShutdownGrace
	}
	return errors.Join(runErr, sup.Shutdown(grace))
}

// printVersion 输出注入的版本 + 提交信息。
func printVersion() {
	fmt.Fprintln(stdOut, version.Full())
}

func logReport(logger *logrus.Logger, report *supervisor.Report) {
	if report == nil {
		return
	}
	for _, inst := range report.Instances {
		entry := logger.WithFields(logging.InstanceFields("report", inst.ID, inst.Host, inst.Port)).
			WithField("phase", inst.Phase).
			WithField("requested_port", inst.RequestedPort).
			WithField("scheme", inst.Scheme())
		if inst.Err != nil {
			entry.WithError(inst.Err).Error("instance_failed")
			continue
		}
		entry.Info("instance_ready")
	}
}

// printPlan 输出端口分配计划，不绑定任何地址。
func printPlan(cfg *config.Config) int {
	report, planErr := supervisor.Preview(cfg)
	if report != nil {
		enc := yaml.NewEncoder(stdOut)
		enc.SetIndent(2)
		if err := enc.Encode(report); err != nil {
			fmt.Fprintf(stdErr, "输出计划失败: %v\n", err)
			return 1
		}
		_ = enc.Close()
	}
	if planErr != nil {
		fmt.Fprintf(stdErr, "端口规划失败: %v\n", planErr)
		return 1
	}
	return 0
}

// parseCLIFlags 解析 CLI 参数，并结合环境变量计算最终的配置路径。
func parseCLIFlags(args []string) (cliOptions, error) {
	fs := flag.NewFlagSet("topohub", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configFlag string
		checkOnly  bool
		planOnly   bool
		showVer    bool
	)

	fs.StringVar(&configFlag, "config", "", "配置文件路径（默认 ./config.toml，可被 TOPOHUB_CONFIG 覆盖）")
	fs.BoolVar(&checkOnly, "check-config", false, "仅校验配置后退出")
	fs.BoolVar(&planOnly, "plan", false, "输出端口分配计划（YAML）后退出")
	fs.BoolVar(&showVer, "version", false, "显示版本信息")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}

	path := os.Getenv("TOPOHUB_CONFIG")
	if configFlag != "" {
		path = configFlag
	}
	if path == "" {
		path = "config.toml"
	}

	return cliOptions{
		configPath:  path,
		checkOnly:   checkOnly,
		planOnly:    planOnly,
		showVersion: showVer,
	}, nil
}
