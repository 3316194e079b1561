package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	ferryerrors "ferry/internal/shared/errors"
	id "ferry/internal/utils/id"
)

// EnvPrefix namespaces every environment override, e.g. FERRY_LOOP_INTERVAL.
const EnvPrefix = "FERRY"

// DefaultSettingsName is the optional settings file looked up in the working
// directory (ferry.settings.yaml).
const DefaultSettingsName = "ferry.settings"

// Setting keys shared by viper, cobra flag bindings and tests.
const (
	KeyJobsFile           = "jobs_file"
	KeyScratchDir         = "scratch_dir"
	KeyPlanFile           = "plan_file"
	KeyLoopInterval       = "loop.interval"
	KeyLoopFailureBackoff = "loop.failure_backoff"
	KeyLoopMaxInterval    = "loop.max_interval"
	KeyLoopMaxIterations  = "loop.max_iterations"
	KeyAgentTimeout       = "agent.timeout"
	KeyAgentClaudeBinary  = "agent.claude_binary"
	KeyAgentClaudeArgs    = "agent.claude_args"
	KeyAgentSimDelay      = "agent.simulated_delay"
	KeyGitBinary          = "git.binary"
	KeyGitTimeout         = "git.timeout"
	KeyRemoteAutoSync     = "remote.auto_sync"
	KeyMetricsAddr        = "metrics.addr"
	KeyTracingEnabled     = "tracing.enabled"
	KeyTracingExporter    = "tracing.exporter"
	KeyTracingOTLP        = "tracing.otlp_endpoint"
	KeyTracingZipkin      = "tracing.zipkin_endpoint"
	KeyTracingSampleRate  = "tracing.sample_rate"
	KeyIDStrategy         = "ids.strategy"
	KeyLogLevel           = "log.level"
	KeyLogFormat          = "log.format"
)

// Runtime holds process settings. Job definitions live in the job list.
type Runtime struct {
	JobsFile   string
	ScratchDir string
	PlanFile   string
	Loop       LoopSettings
	Agent      AgentSettings
	Git        GitSettings
	Remote     RemoteSettings
	Metrics    MetricsSettings
	Tracing    TracingSettings
	Log        LogSettings
	// IDStrategy selects run and iteration identifiers: ksuid or uuidv7.
	IDStrategy string
	// SettingsFile is the settings file that was read, empty when none.
	SettingsFile string
}

type LoopSettings struct {
	Interval       time.Duration
	FailureBackoff bool
	MaxInterval    time.Duration
	MaxIterations  int
}

type AgentSettings struct {
	Timeout        time.Duration
	ClaudeBinary   string
	ClaudeArgs     []string
	SimulatedDelay time.Duration
}

type GitSettings struct {
	Binary  string
	Timeout time.Duration
}

type RemoteSettings struct {
	AutoSync bool
}

type MetricsSettings struct {
	// Addr enables the /metrics endpoint when non-empty, e.g. ":9464".
	Addr string
}

type TracingSettings struct {
	Enabled        bool
	Exporter       string
	OTLPEndpoint   string
	ZipkinEndpoint string
	SampleRate     float64
}

type LogSettings struct {
	Level  string
	Format string
}

// NewViper returns a viper instance with defaults and FERRY_* environment
// binding applied.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault(KeyJobsFile, DefaultJobsFile)
	v.SetDefault(KeyScratchDir, ".ferry/scratch")
	v.SetDefault(KeyPlanFile, "IMPLEMENTATION_PLAN.md")
	v.SetDefault(KeyLoopInterval, 10*time.Second)
	v.SetDefault(KeyLoopFailureBackoff, false)
	v.SetDefault(KeyLoopMaxInterval, 5*time.Minute)
	v.SetDefault(KeyLoopMaxIterations, 0)
	v.SetDefault(KeyAgentTimeout, 5*time.Minute)
	v.SetDefault(KeyAgentClaudeBinary, "claude")
	v.SetDefault(KeyAgentClaudeArgs, []string{})
	v.SetDefault(KeyAgentSimDelay, 2*time.Second)
	v.SetDefault(KeyGitBinary, "git")
	v.SetDefault(KeyGitTimeout, 60*time.Second)
	v.SetDefault(KeyRemoteAutoSync, false)
	v.SetDefault(KeyMetricsAddr, "")
	v.SetDefault(KeyTracingEnabled, false)
	v.SetDefault(KeyTracingExporter, "otlp")
	v.SetDefault(KeyTracingOTLP, "localhost:4318")
	v.SetDefault(KeyTracingZipkin, "http://localhost:9411/api/v2/spans")
	v.SetDefault(KeyTracingSampleRate, 1.0)
	v.SetDefault(KeyIDStrategy, "ksuid")
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyLogFormat, "console")
	return v
}

// LoadRuntime reads the optional settings file into v and returns the
// validated settings. An explicit settingsFile must exist; the default one
// may be absent.
func LoadRuntime(v *viper.Viper, settingsFile string) (Runtime, error) {
	if v == nil {
		v = NewViper()
	}
	settingsFile = strings.TrimSpace(settingsFile)
	if settingsFile != "" {
		v.SetConfigFile(settingsFile)
	} else {
		v.SetConfigName(DefaultSettingsName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if settingsFile != "" || !errors.As(err, &notFound) {
			return Runtime{}, fmt.Errorf("read settings: %w", err)
		}
	}

	rt := Runtime{
		JobsFile:   strings.TrimSpace(v.GetString(KeyJobsFile)),
		ScratchDir: strings.TrimSpace(v.GetString(KeyScratchDir)),
		PlanFile:   strings.TrimSpace(v.GetString(KeyPlanFile)),
		Loop: LoopSettings{
			Interval:       v.GetDuration(KeyLoopInterval),
			FailureBackoff: v.GetBool(KeyLoopFailureBackoff),
			MaxInterval:    v.GetDuration(KeyLoopMaxInterval),
			MaxIterations:  v.GetInt(KeyLoopMaxIterations),
		},
		Agent: AgentSettings{
			Timeout:        v.GetDuration(KeyAgentTimeout),
			ClaudeBinary:   strings.TrimSpace(v.GetString(KeyAgentClaudeBinary)),
			ClaudeArgs:     v.GetStringSlice(KeyAgentClaudeArgs),
			SimulatedDelay: v.GetDuration(KeyAgentSimDelay),
		},
		Git: GitSettings{
			Binary:  strings.TrimSpace(v.GetString(KeyGitBinary)),
			Timeout: v.GetDuration(KeyGitTimeout),
		},
		Remote:  RemoteSettings{AutoSync: v.GetBool(KeyRemoteAutoSync)},
		Metrics: MetricsSettings{Addr: strings.TrimSpace(v.GetString(KeyMetricsAddr))},
		Tracing: TracingSettings{
			Enabled:        v.GetBool(KeyTracingEnabled),
			Exporter:       strings.ToLower(strings.TrimSpace(v.GetString(KeyTracingExporter))),
			OTLPEndpoint:   strings.TrimSpace(v.GetString(KeyTracingOTLP)),
			ZipkinEndpoint: strings.TrimSpace(v.GetString(KeyTracingZipkin)),
			SampleRate:     v.GetFloat64(KeyTracingSampleRate),
		},
		Log:          LogSettings{Level: v.GetString(KeyLogLevel), Format: v.GetString(KeyLogFormat)},
		IDStrategy:   strings.ToLower(strings.TrimSpace(v.GetString(KeyIDStrategy))),
		SettingsFile: v.ConfigFileUsed(),
	}
	if err := rt.Validate(); err != nil {
		return Runtime{}, err
	}
	return rt, nil
}

// Validate rejects settings the loop and executors cannot run with.
func (r Runtime) Validate() error {
	switch {
	case r.Loop.Interval <= 0:
		return ferryerrors.InvalidArgument("%s must be positive, got %s", KeyLoopInterval, r.Loop.Interval)
	case r.Loop.MaxIterations < 0:
		return ferryerrors.InvalidArgument("%s must not be negative", KeyLoopMaxIterations)
	case r.Loop.FailureBackoff && r.Loop.MaxInterval < r.Loop.Interval:
		return ferryerrors.InvalidArgument("%s (%s) is shorter than %s (%s)", KeyLoopMaxInterval, r.Loop.MaxInterval, KeyLoopInterval, r.Loop.Interval)
	case r.Agent.Timeout <= 0:
		return ferryerrors.InvalidArgument("%s must be positive", KeyAgentTimeout)
	case r.Git.Timeout <= 0:
		return ferryerrors.InvalidArgument("%s must be positive", KeyGitTimeout)
	case r.Tracing.Enabled && r.Tracing.Exporter != "otlp" && r.Tracing.Exporter != "zipkin":
		return ferryerrors.InvalidArgument("%s must be otlp or zipkin, got %q", KeyTracingExporter, r.Tracing.Exporter)
	case r.Tracing.SampleRate < 0 || r.Tracing.SampleRate > 1:
		return ferryerrors.InvalidArgument("%s must be between 0 and 1", KeyTracingSampleRate)
	}
	if _, err := id.ParseStrategy(r.IDStrategy); err != nil {
		return ferryerrors.InvalidArgument("%s: %v", KeyIDStrategy, err)
	}
	return nil
}
