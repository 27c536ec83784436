package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"mailq/backend/internal/config"
	"mailq/backend/internal/domain"
	"mailq/backend/internal/logger"
	"mailq/backend/internal/selector"
	"mailq/backend/internal/service"
)

// 退出码
const (
	exitFailure       = 1
	exitInvalid       = 2
	exitParse         = 3
	exitAuthorization = 4
	exitExecution     = 5
)

// session 一次命令执行期间的队列服务
type session struct {
	queue   *service.QueueService
	log     *zap.Logger
	cleanup func()
}

func newApp(stdout, stderr io.Writer) *cli.App {
	return &cli.App{
		Name:      "mailq",
		Usage:     "inspect and administer the Postfix queue",
		Writer:    stdout,
		ErrWriter: stderr,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Usage: "configuration file", EnvVars: []string{"MAILQ_CONFIG"}},
			&cli.StringFlag{Name: "file", Aliases: []string{"f"}, Usage: "load the queue from a postqueue -p snapshot file"},
			&cli.StringFlag{Name: "method", Aliases: []string{"m"}, Usage: "load method: postqueue or spool", Value: service.MethodPostqueue},
			&cli.BoolFlag{Name: "sudo", Usage: "run postfix commands through sudo"},
			&cli.BoolFlag{Name: "debug", Usage: "log debug timing to stderr"},
		},
		Commands: []*cli.Command{
			{
				Name:   "status",
				Usage:  "show store status",
				Action: statusAction,
			},
			{
				Name:  "show",
				Usage: "show selected messages",
				Flags: append(filterFlags(),
					&cli.StringFlag{Name: "sortby", Usage: "sort field: qid, date, sender, size, status", Value: string(selector.FieldDate)},
					&cli.BoolFlag{Name: "asc", Usage: "sort ascending"},
					&cli.StringFlag{Name: "rankby", Usage: "rank messages by field instead of listing them"},
					&cli.IntFlag{Name: "limit", Aliases: []string{"n"}, Usage: "maximum number of lines, 0 for all"},
				),
				Action: showAction,
			},
			{
				Name:   "filters",
				Usage:  "show the applied filters",
				Flags:  filterFlags(),
				Action: filtersAction,
			},
			{
				Name:      "inspect",
				Usage:     "parse and dump one message",
				ArgsUsage: "<queue-id>",
				Action:    inspectAction,
			},
			{
				Name:      "super",
				Usage:     "hold, release, requeue or delete the selected messages",
				ArgsUsage: "hold|release|requeue|delete",
				Flags: append(filterFlags(),
					&cli.BoolFlag{Name: "yes", Aliases: []string{"y"}, Usage: "confirm the operation"},
				),
				Action: superAction,
			},
		},
	}
}

func filterFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringSliceFlag{Name: "status", Usage: "keep messages in status active, deferred or hold (repeatable)"},
		&cli.StringFlag{Name: "sender", Usage: "keep messages from sender"},
		&cli.BoolFlag{Name: "partial", Usage: "match --sender as a substring"},
		&cli.StringFlag{Name: "error", Usage: "keep messages whose delivery error contains the text"},
		&cli.StringFlag{Name: "date", Usage: "keep messages accepted in YYYY-MM-DD, A..B, +A or -B"},
		&cli.StringSliceFlag{Name: "size", Usage: "keep messages sized n, +n or -n bytes (up to two)"},
	}
}

// open 加载配置与队列
func open(c *cli.Context) (*session, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, err
	}
	if c.Bool("sudo") {
		cfg.Postfix.UseSudo = true
	}

	logCfg := cfg.Log.Logger()
	logCfg.Stderr = true
	logCfg.File = ""
	logCfg.Level = "warn"
	if c.Bool("debug") {
		logCfg.Level = "debug"
	}
	log, err := logger.NewLogger(logCfg)
	if err != nil {
		return nil, err
	}

	queue, cleanup := service.NewQueueServiceFromConfig(cfg, nil, nil, log)
	s := &session{queue: queue, log: log, cleanup: cleanup}

	req := service.LoadRequest{Method: c.String("method"), Filename: c.String("file")}
	if req.Filename != "" {
		req.Method = service.MethodFile
	}
	if _, err := queue.Load(c.Context, req); err != nil {
		s.close()
		return nil, err
	}
	return s, nil
}

func (s *session) close() {
	s.cleanup()
	_ = s.log.Sync()
}

// applyFilters 按 status、sender、error、date、size 的顺序应用筛选
func (s *session) applyFilters(c *cli.Context) error {
	if values := c.StringSlice("status"); len(values) > 0 {
		statuses := make([]domain.MessageStatus, 0, len(values))
		for _, value := range values {
			status, err := domain.ParseStatus(value)
			if err != nil {
				return err
			}
			statuses = append(statuses, status)
		}
		if _, err := s.queue.Apply(selector.StatusFilter{Statuses: statuses}); err != nil {
			return err
		}
	}
	if c.IsSet("sender") {
		if _, err := s.queue.Apply(selector.SenderFilter{Sender: c.String("sender"), Partial: c.Bool("partial")}); err != nil {
			return err
		}
	}
	if c.IsSet("error") {
		if _, err := s.queue.Apply(selector.ErrorFilter{Substring: c.String("error")}); err != nil {
			return err
		}
	}
	if c.IsSet("date") {
		start, stop, err := selector.ParseDateSpec(c.String("date"), time.Local)
		if err != nil {
			return err
		}
		if _, err := s.queue.Apply(selector.DateFilter{Start: start, Stop: stop}); err != nil {
			return err
		}
	}
	if values := c.StringSlice("size"); len(values) > 0 {
		min, max, err := selector.ParseSizeSpec(values...)
		if err != nil {
			return err
		}
		if _, err := s.queue.Apply(selector.SizeFilter{Min: min, Max: max}); err != nil {
			return err
		}
	}
	return nil
}

func statusAction(c *cli.Context) error {
	s, err := open(c)
	if err != nil {
		return err
	}
	defer s.close()

	stats := s.queue.Status()
	w := c.App.Writer
	fmt.Fprintf(w, "source:    %s\n", stats.Source)
	if stats.LoadedAt != nil {
		fmt.Fprintf(w, "loaded at: %s\n", stats.LoadedAt.Format(time.RFC3339))
	}
	fmt.Fprintf(w, "messages:  %d (%d bytes)\n", stats.Total, stats.TotalBytes)
	for _, status := range domain.AllStatuses() {
		fmt.Fprintf(w, "  %-9s %d\n", status, stats.ByStatus[status])
	}
	return nil
}

func showAction(c *cli.Context) error {
	s, err := open(c)
	if err != nil {
		return err
	}
	defer s.close()

	if err := s.applyFilters(c); err != nil {
		return err
	}

	req := service.ViewRequest{Ascending: c.Bool("asc"), Limit: c.Int("limit")}
	if req.SortBy, err = selector.ParseField(c.String("sortby")); err != nil {
		return err
	}
	if c.IsSet("rankby") {
		if req.RankBy, err = selector.ParseField(c.String("rankby")); err != nil {
			return err
		}
	}

	view, err := s.queue.Selection(req)
	if err != nil {
		return err
	}

	w := c.App.Writer
	shown := len(view.Messages)
	if req.RankBy != "" {
		shown = len(view.Ranking)
		for _, entry := range view.Ranking {
			fmt.Fprintf(w, "%6d  %s\n", entry.Count, entry.Value)
		}
	} else {
		for _, msg := range view.Messages {
			fmt.Fprintln(w, selector.FormatBrief(msg))
		}
	}
	if view.More > 0 {
		fmt.Fprintln(w, selector.FormatMore(shown, view.More))
	}
	return nil
}

func filtersAction(c *cli.Context) error {
	s, err := open(c)
	if err != nil {
		return err
	}
	defer s.close()

	if err := s.applyFilters(c); err != nil {
		return err
	}
	printFilters(c.App.Writer, s.queue.Filters())
	return nil
}

func printFilters(w io.Writer, filters []selector.Filter) {
	if len(filters) == 0 {
		fmt.Fprintln(w, "no filters applied")
		return
	}
	for _, view := range service.DescribeFilters(filters) {
		fmt.Fprintf(w, "[%d] %s\n", view.Index, view.Description)
	}
}

func inspectAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return domain.InvalidArgument("inspect expects exactly one queue id")
	}

	s, err := open(c)
	if err != nil {
		return err
	}
	defer s.close()

	dump, err := s.queue.Inspect(c.Context, strings.TrimSpace(c.Args().First()))
	if err != nil {
		return err
	}

	enc := json.NewEncoder(c.App.Writer)
	enc.SetIndent("", "    ")
	return enc.Encode(dump)
}

func superAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return domain.InvalidArgument("super expects one operation: hold, release, requeue or delete")
	}
	op, err := domain.ParseOperation(c.Args().First())
	if err != nil {
		return err
	}
	if !c.Bool("yes") {
		return domain.InvalidArgument("refusing to %s without --yes", op)
	}

	s, err := open(c)
	if err != nil {
		return err
	}
	defer s.close()

	if err := s.applyFilters(c); err != nil {
		return err
	}

	result, err := s.queue.Operate(c.Context, op)
	if result != nil {
		w := c.App.Writer
		for _, line := range result.Output {
			fmt.Fprintln(w, line)
		}
		fmt.Fprintf(w, "%s: %d message(s) submitted\n", op, result.Count)
	}
	return err
}

// exitCode 按错误分类返回退出码
func exitCode(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidArgument):
		return exitInvalid
	case errors.Is(err, domain.ErrParse):
		return exitParse
	case errors.Is(err, domain.ErrAuthorization):
		return exitAuthorization
	case errors.Is(err, domain.ErrExecution):
		return exitExecution
	}
	return exitFailure
}
