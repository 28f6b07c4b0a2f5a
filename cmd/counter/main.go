package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"github.com/xelth-com/propcount/internal/config"
	"github.com/xelth-com/propcount/internal/gateway"
	"github.com/xelth-com/propcount/internal/logging"
	"github.com/xelth-com/propcount/internal/loop"
	"github.com/xelth-com/propcount/internal/physicalcount"
	"github.com/xelth-com/propcount/internal/realtime"
	"github.com/xelth-com/propcount/internal/scanner"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}
	st := cfg.Station

	flags := pflag.NewFlagSet("counter", pflag.ExitOnError)
	flags.StringVar(&st.APIURL, "api", st.APIURL, "API root URL")
	flags.StringVar(&st.WSURL, "ws", st.WSURL, "realtime websocket URL")
	flags.StringVar(&st.Token, "token", st.Token, "bearer token (API_TOKEN)")
	flags.StringVarP(&st.Office, "office", "o", st.Office, "office to count")
	flags.StringVar(&st.FramesDir, "frames", st.FramesDir, "directory of camera frames (png/jpg)")
	flags.Float64Var(&st.FPS, "fps", st.FPS, "frames decoded per second")
	flags.DurationVar(&st.FeedbackWindow, "feedback", st.FeedbackWindow, "pause after each scan")
	flags.DurationVar(&st.DuplicateWindow, "duplicate-window", st.DuplicateWindow, "ignore the same code again within this window")
	flags.IntVar(&st.PageSize, "page-size", st.PageSize, "rows per page")
	modeFlag := flags.StringP("mode", "m", "continuous", "scan mode: single or continuous")
	noScan := flags.Bool("no-scan", false, "do not start the scanner")
	export := flags.String("export", "", "write the office count sheet as CSV to this file and exit")
	logLevel := flags.String("log-level", cfg.LogLevel, "log level")
	flags.Parse(os.Args[1:])

	log := logging.New(*logLevel, cfg.LogFormat)
	mode, err := scanner.ParseMode(*modeFlag)
	if err != nil {
		log.Fatal(err)
	}
	if st.Token == "" {
		log.Fatal("API token required (--token or API_TOKEN)")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	gw, err := gateway.New(st.APIURL, st.Token, gateway.WithLogger(log))
	if err != nil {
		log.Fatal(err)
	}

	if *export != "" {
		if err := exportSheet(ctx, gw, st.Office, *export); err != nil {
			log.Fatalf("Export failed: %v", err)
		}
		log.WithField("file", *export).Info("✅ Count sheet exported")
		return
	}

	l := loop.New()
	out := newConsole(os.Stdout)
	ctrl := physicalcount.New(ctx, gw, l, log, physicalcount.Options{
		PageSize: st.PageSize,
		Notifier: physicalcount.NotifierFunc(out.notify),
	})
	ctrl.OnRender(func() { out.render(ctrl) })

	conn := realtime.Dial(ctx, realtime.Options{URL: st.WSURL, Token: st.Token}, ctrl.Channel(), log)
	ctrl.Channel().Attach(conn)

	var interval time.Duration
	if st.FPS > 0 {
		interval = time.Duration(float64(time.Second) / st.FPS)
	}
	pipeline := scanner.NewPipeline(
		scanner.NewDirSource(st.FramesDir),
		scanner.NewZXingDecoder(),
		l,
		scanner.FeedbackFunc(out.feedback),
		log,
		scanner.Options{Interval: interval, FeedbackWindow: st.FeedbackWindow, DuplicateWindow: st.DuplicateWindow},
	)
	ctrl.AttachScanner(pipeline)

	l.Post(func() {
		if st.Office != "" {
			ctrl.SelectOffice(st.Office)
		}
		if !*noScan {
			ctrl.StartScanner(mode)
		}
	})

	go out.readCommands(ctx, bufio.NewScanner(os.Stdin), l, ctrl, cancel, st.Operator)

	log.WithFields(logrus.Fields{"office": st.Office, "mode": mode.String(), "frames": st.FramesDir}).Info("🧮 Counter station running")
	l.Run(ctx)

	ctrl.Close()
	conn.Close()
	fmt.Fprintln(os.Stdout, "bye")
}

func exportSheet(ctx context.Context, gw *gateway.Client, office, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := gw.ExportCSV(ctx, office, f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
