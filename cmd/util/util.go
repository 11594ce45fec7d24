package util

import (
	"fmt"
	"github.com/ValentinKolb/genms/lib/common"
	"github.com/inhies/go-bytesize"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"strings"
)

const (
	// Wrap is the number of characters to Wrap the help text at
	Wrap int = 50

	// EnvPrefix is the prefix of all environment variables (e.g. GENMS_HEAP_SIZE)
	EnvPrefix = "genms"
)

// WrapString wraps a string at Wrap characters
func WrapString(text string) string {
	var wrappedLines []string
	var currentLine strings.Builder
	lineWidth := 0

	for _, word := range strings.Fields(text) {
		wordWidth := len(word)

		// Check if we need to wrap
		if lineWidth > 0 && lineWidth+1+wordWidth > Wrap {
			wrappedLines = append(wrappedLines, currentLine.String())
			currentLine.Reset()
			lineWidth = 0
		}

		// Add space before word (if not first word on line)
		if lineWidth > 0 {
			currentLine.WriteString(" ")
			lineWidth++
		}

		// Add the word
		currentLine.WriteString(word)
		lineWidth += wordWidth
	}

	// Add any remaining text
	if currentLine.Len() > 0 {
		wrappedLines = append(wrappedLines, currentLine.String())
	}

	return strings.Join(wrappedLines, "\n")
}

// SetupCollectorFlags adds the flags of the collector options to a command
func SetupCollectorFlags(cmd *cobra.Command) {
	defaults := common.DefaultOptions()

	key := "heap-size"
	cmd.PersistentFlags().String(key, bytesize.New(float64(defaults.HeapSize)).String(), WrapString("Total heap budget including the nursery (e.g. 64MB)"))

	key = "nursery-size"
	cmd.PersistentFlags().String(key, bytesize.New(float64(defaults.NurserySize)).String(), WrapString("Size of the nursery (e.g. 8MB)"))

	key = "workers"
	cmd.PersistentFlags().Int(key, defaults.Workers, WrapString("Number of parallel GC worker goroutines"))

	key = "promotion-headroom"
	cmd.PersistentFlags().Float64(key, defaults.PromotionHeadroom, WrapString("Multiplier of the nursery occupancy in the full-heap heuristic. Values above 1 collect the full heap earlier"))

	key = "full-heap-system-gc"
	cmd.PersistentFlags().Bool(key, defaults.FullHeapSystemGC, WrapString("Whether user-requested collections trace the full heap"))

	key = "log-level"
	cmd.PersistentFlags().String(key, defaults.LogLevel, WrapString("LogLevel is the level at which logs will be output (debug, info, warn, error)"))
}

// InitConfig loads .env files and makes viper read GENMS_ environment variables
func InitConfig() {
	// load env files
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	// initialize viper
	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv() // read in environment variables that match
}

// GetByteSize reads a human-readable byte size (e.g. 64MB, 512KB) from viper
func GetByteSize(key string) (uint64, error) {
	value := viper.GetString(key)
	size, err := bytesize.Parse(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	return uint64(size), nil
}

// GetCollectorOptions reads the collector options from viper.
// The options are validated by the collector.
func GetCollectorOptions() (*common.Options, error) {
	opts := common.DefaultOptions()

	var err error
	if opts.HeapSize, err = GetByteSize("heap-size"); err != nil {
		return nil, err
	}
	if opts.NurserySize, err = GetByteSize("nursery-size"); err != nil {
		return nil, err
	}
	opts.Workers = viper.GetInt("workers")
	opts.PromotionHeadroom = viper.GetFloat64("promotion-headroom")
	opts.FullHeapSystemGC = viper.GetBool("full-heap-system-gc")
	opts.LogLevel = viper.GetString("log-level")

	return opts, nil
}

// BindCommandFlags binds a command's flags to viper
func BindCommandFlags(cmd *cobra.Command) error {
	return viper.BindPFlags(cmd.Flags())
}
