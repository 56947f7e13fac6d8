package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/andresmejia3/segflow/internal/config"
)

// mustBindPFlag attempts to bind a specific key to a pflag (as used by cobra) and panics
// if the binding fails with a non-nil error.
func mustBindPFlag(key string, flag *pflag.Flag) {
	if err := viper.BindPFlag(key, flag); err != nil {
		panic("failed to bind pflag: " + err.Error())
	}
}

func mustBindEnv(input ...string) {
	if err := viper.BindEnv(input...); err != nil {
		panic("failed to bind env key: " + err.Error())
	}
}

// bindRootFlags binds the settings shared by every subcommand.
func bindRootFlags(command *cobra.Command) {
	defaultConfig := config.DefaultConfig()
	flags := command.PersistentFlags()

	flags.String("db", "", "PostgreSQL connection string for the run ledger (default: POSTGRES_* env, or no ledger)")
	mustBindPFlag("db.url", flags.Lookup("db"))
	mustBindEnv("db.url", "SEGFLOW_DB_URL")

	flags.String("log-level", defaultConfig.Log.Level, "the log level to use")
	mustBindPFlag("log.level", flags.Lookup("log-level"))
	mustBindEnv("log.level", "SEGFLOW_LOG_LEVEL")

	flags.String("log-format", defaultConfig.Log.Format, "the log format to output logs in (console or json)")
	mustBindPFlag("log.format", flags.Lookup("log-format"))
	mustBindEnv("log.format", "SEGFLOW_LOG_FORMAT")

	flags.StringSlice("log-outputs", defaultConfig.Log.Outputs, "log destinations: stdout, stderr or file paths")
	mustBindPFlag("log.outputs", flags.Lookup("log-outputs"))
	mustBindEnv("log.outputs", "SEGFLOW_LOG_OUTPUTS")

	flags.Bool("log-rotate", defaultConfig.Log.Rotate, "rotate file log outputs")
	mustBindPFlag("log.rotate", flags.Lookup("log-rotate"))
	mustBindEnv("log.rotate", "SEGFLOW_LOG_ROTATE")

	flags.String("output-dir", defaultConfig.Routing.OutputDir, "directory receiving out_<name> files")
	mustBindPFlag("routing.output-dir", flags.Lookup("output-dir"))
	mustBindEnv("routing.output-dir", "SEGFLOW_OUTPUT_DIR")

	flags.Int("model-width", defaultConfig.Routing.ModelWidth, "model input width")
	mustBindPFlag("routing.model-width", flags.Lookup("model-width"))
	mustBindEnv("routing.model-width", "SEGFLOW_MODEL_WIDTH")

	flags.Int("model-height", defaultConfig.Routing.ModelHeight, "model input height")
	mustBindPFlag("routing.model-height", flags.Lookup("model-height"))
	mustBindEnv("routing.model-height", "SEGFLOW_MODEL_HEIGHT")
}

// bindRunFlags binds the pipeline settings of the run command.
func bindRunFlags(command *cobra.Command) {
	defaultConfig := config.DefaultConfig()
	flags := command.Flags()

	flags.Int("queue-capacity", defaultConfig.Queue.Capacity, "capacity of each inter-stage queue")
	mustBindPFlag("queue.capacity", flags.Lookup("queue-capacity"))
	mustBindEnv("queue.capacity", "SEGFLOW_QUEUE_CAPACITY")

	flags.Duration("retry-interval", defaultConfig.Queue.RetryInterval, "sleep between send attempts while a queue is full")
	mustBindPFlag("queue.retry-interval", flags.Lookup("retry-interval"))
	mustBindEnv("queue.retry-interval", "SEGFLOW_QUEUE_RETRY_INTERVAL")

	flags.Int("max-attempts", defaultConfig.Queue.MaxAttempts, "give up a send after this many attempts (0 retries forever)")
	mustBindPFlag("queue.max-attempts", flags.Lookup("max-attempts"))
	mustBindEnv("queue.max-attempts", "SEGFLOW_QUEUE_MAX_ATTEMPTS")

	flags.String("backend", defaultConfig.Transform.Backend, "imaging backend (software, or gocv when built with -tags gocv)")
	mustBindPFlag("transform.backend", flags.Lookup("backend"))
	mustBindEnv("transform.backend", "SEGFLOW_TRANSFORM_BACKEND")

	flags.Int("jpeg-quality", defaultConfig.Transform.JPEGQuality, "JPEG quality of model input and output files")
	mustBindPFlag("transform.jpeg-quality", flags.Lookup("jpeg-quality"))
	mustBindEnv("transform.jpeg-quality", "SEGFLOW_TRANSFORM_JPEG_QUALITY")

	flags.String("inference", defaultConfig.Inference.Backend, "inference backend: python or luminance")
	mustBindPFlag("inference.backend", flags.Lookup("inference"))
	mustBindEnv("inference.backend", "SEGFLOW_INFERENCE_BACKEND")

	flags.String("script", defaultConfig.Inference.Script, "python inference worker script")
	mustBindPFlag("inference.script", flags.Lookup("script"))
	mustBindEnv("inference.script", "SEGFLOW_INFERENCE_SCRIPT")

	flags.String("python", defaultConfig.Inference.Python, "python interpreter")
	mustBindPFlag("inference.python", flags.Lookup("python"))
	mustBindEnv("inference.python", "SEGFLOW_INFERENCE_PYTHON")

	flags.String("stream-addr", defaultConfig.Post.StreamAddr, "host:port receiving live overlays (see `segflow receive`)")
	mustBindPFlag("post.stream-addr", flags.Lookup("stream-addr"))
	mustBindEnv("post.stream-addr", "SEGFLOW_POST_STREAM_ADDR")

	flags.Duration("dial-timeout", defaultConfig.Post.DialTimeout, "timeout connecting to the stream address")
	mustBindPFlag("post.dial-timeout", flags.Lookup("dial-timeout"))
	mustBindEnv("post.dial-timeout", "SEGFLOW_POST_DIAL_TIMEOUT")

	for _, c := range []struct{ name, key, usage string }{
		{"crop-x", "post.crop.x", "left edge of the live region of interest"},
		{"crop-y", "post.crop.y", "top edge of the live region of interest"},
		{"crop-w", "post.crop.w", "width of the live region of interest (0 = full frame)"},
		{"crop-h", "post.crop.h", "height of the live region of interest (0 = full frame)"},
	} {
		flags.Int(c.name, 0, c.usage)
		mustBindPFlag(c.key, flags.Lookup(c.name))
	}

	flags.Int("max-image-bytes", defaultConfig.Limits.MaxImageBytes, "largest decoded image accepted")
	mustBindPFlag("limits.max-image-bytes", flags.Lookup("max-image-bytes"))
	mustBindEnv("limits.max-image-bytes", "SEGFLOW_LIMITS_MAX_IMAGE_BYTES")

	flags.String("metrics-addr", defaultConfig.Metrics.Addr, "serve prometheus metrics on this address")
	mustBindPFlag("metrics.addr", flags.Lookup("metrics-addr"))
	mustBindEnv("metrics.addr", "SEGFLOW_METRICS_ADDR")
}
