package cli

import (
	"os"
	"strconv"
	"strings"

	"github.com/namewise/runwatch-go/clientconfig"
	"github.com/namewise/runwatch-go/internal/env"
	"github.com/namewise/runwatch-go/monitor"
)

type cliOptions struct {
	configPath string
	baseURL    string
	apiKey     string
	transport  string
	journal    string
	redisAddr  string
	redisDB    int
	filter     string
	sort       string
	page       int
}

func parseArgs(args []string) (cliOptions, []string) {
	opts := cliOptions{}
	positional := make([]string, 0, len(args))
	for _, arg := range args {
		switch {
		case strings.HasPrefix(arg, "--config="):
			opts.configPath = strings.TrimSpace(strings.TrimPrefix(arg, "--config="))
		case strings.HasPrefix(arg, "--base-url="):
			opts.baseURL = strings.TrimSpace(strings.TrimPrefix(arg, "--base-url="))
		case strings.HasPrefix(arg, "--api-key="):
			opts.apiKey = strings.TrimSpace(strings.TrimPrefix(arg, "--api-key="))
		case strings.HasPrefix(arg, "--transport="):
			opts.transport = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(arg, "--transport=")))
		case strings.HasPrefix(arg, "--journal="):
			opts.journal = strings.TrimSpace(strings.TrimPrefix(arg, "--journal="))
		case strings.HasPrefix(arg, "--redis="):
			opts.redisAddr = strings.TrimSpace(strings.TrimPrefix(arg, "--redis="))
		case strings.HasPrefix(arg, "--filter="):
			opts.filter = strings.TrimSpace(strings.TrimPrefix(arg, "--filter="))
		case strings.HasPrefix(arg, "--sort="):
			opts.sort = strings.TrimSpace(strings.TrimPrefix(arg, "--sort="))
		case strings.HasPrefix(arg, "--page="):
			if n, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(arg, "--page="))); err == nil {
				opts.page = n
			}
		default:
			positional = append(positional, arg)
		}
	}
	return opts, positional
}

// resolve layers the option sources: flags win over the config file, which
// wins over environment variables.
func resolve(opts cliOptions) (cliOptions, monitor.ReconnectPolicy) {
	policy := monitor.DefaultReconnectPolicy()

	var cfg clientconfig.Config
	if opts.configPath != "" {
		if loaded, err := clientconfig.Load(opts.configPath); err == nil {
			cfg = loaded
		}
	}
	if opts.baseURL == "" {
		opts.baseURL = cfg.BaseURL
	}
	if opts.baseURL == "" {
		opts.baseURL = strings.TrimSpace(os.Getenv("RUNWATCH_BASE_URL"))
	}
	if opts.apiKey == "" {
		opts.apiKey = cfg.APIKey
	}
	if opts.apiKey == "" {
		opts.apiKey = strings.TrimSpace(os.Getenv("RUNWATCH_API_KEY"))
	}
	if opts.transport == "" {
		opts.transport = cfg.Transport
	}
	if opts.transport == "" {
		opts.transport = "sse"
	}
	if opts.journal == "" {
		opts.journal = cfg.JournalPath
	}
	if opts.redisAddr == "" {
		opts.redisAddr = cfg.RedisAddr
	}
	if cfg.RedisDB > 0 {
		opts.redisDB = cfg.RedisDB
	}

	if cfg.FailureThreshold > 0 {
		policy.FailureThreshold = cfg.FailureThreshold
	}
	policy.PollInterval = clientconfig.Duration(cfg.PollInterval, policy.PollInterval)
	policy.ProbeInterval = clientconfig.Duration(cfg.ProbeInterval, policy.ProbeInterval)
	policy.MaxDelay = clientconfig.Duration(cfg.MaxDelay, policy.MaxDelay)
	policy.PollInterval = env.ParseDurationEnv("RUNWATCH_POLL_INTERVAL", policy.PollInterval)
	policy.ProbeInterval = env.ParseDurationEnv("RUNWATCH_PROBE_INTERVAL", policy.ProbeInterval)
	return opts, policy
}
