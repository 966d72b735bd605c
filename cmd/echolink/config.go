package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"go.klb.dev/echolink/internal/logging"
)

// legacyEnv lists unprefixed env names still honoured for a key, checked
// after ECHOLINK_<KEY>.
var legacyEnv = map[string][]string{
	"elevenlabs-api-key": {"ELEVENLABS_API_KEY"},
	"voice-id":           {"ELEVENLABS_VOICE_ID"},
	"tts-model":          {"ELEVENLABS_MODEL_ID"},
	"min-text-length":    {"MIN_TEXT_LENGTH"},
	"interval":           {"CLIPBOARD_MONITOR_INTERVAL"},
	"enabled":            {"CLIPBOARD_MONITOR_ENABLED"},
	"summarize":          {"SUMMARIZATION_ENABLED"},
	"max-summary-length": {"MAX_SUMMARY_LENGTH"},
	"summarizer":         {"SUMMARIZATION_PROVIDER"},
	"summarizer-api-key": {"OPENAI_API_KEY", "GEMINI_API_KEY"},
	"summarizer-model":   {"OPENAI_MODEL", "OLLAMA_MODEL"},
	"summarizer-url":     {"OPENAI_BASE_URL", "OLLAMA_BASE_URL"},
	"log-level":          {"LOG_LEVEL"},
}

// bindViper wires a command's flags into a viper instance with the standard
// config file search order and ECHOLINK_* env var prefix.
//
// Precedence (lowest → highest): defaults → config file → env vars (.env
// included) → flags
func bindViper(cmd *cobra.Command, v *viper.Viper) error {
	if err := loadDotEnv(); err != nil {
		return err
	}

	configFlag, _ := cmd.Flags().GetString("config")
	if configFlag != "" {
		v.SetConfigFile(configFlag)
	} else {
		v.SetConfigName("echolink")
		v.SetConfigType("toml")
		v.AddConfigPath("/etc/echolink/")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "echolink"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("config: %w", err)
		}
	}

	v.SetEnvPrefix("ECHOLINK")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	for key, names := range legacyEnv {
		if cmd.Flags().Lookup(key) == nil {
			continue
		}
		if err := v.BindEnv(append([]string{key}, names...)...); err != nil {
			return fmt.Errorf("binding env %s: %w", key, err)
		}
	}

	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return fmt.Errorf("binding flags: %w", err)
	}
	return nil
}

// loadDotEnv loads the nearest .env from the working directory upward.
// Variables already set in the environment win.
func loadDotEnv() error {
	path, ok := findDotEnv()
	if !ok {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func findDotEnv() (string, bool) {
	dir, err := os.Getwd()
	if err != nil {
		return "", false
	}
	for {
		p := filepath.Join(dir, ".env")
		if fi, err := os.Stat(p); err == nil && !fi.IsDir() {
			return p, true
		} else if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return "", false
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", false
		}
		dir = parent
	}
}

// addLoggingFlags adds the standard logging flags to a command.
func addLoggingFlags(cmd *cobra.Command) {
	cmd.Flags().Bool("no-background", false, "run interactively: tinter logs + debug level")
	cmd.Flags().String("log-format", "auto", "log format: auto|text|json")
	cmd.Flags().String("log-level", "", "log level: debug|info|warn|error (default: info for service, debug for interactive)")
	cmd.Flags().String("log-file", "", "append logs to this file instead of stderr")
}

// addConfigFlag adds the --config flag to a command.
func addConfigFlag(cmd *cobra.Command) {
	cmd.Flags().String("config", "", "path to config file (overrides auto-discovery)")
}

// setupLogging reads logging flags from viper and configures slog. The
// returned closer releases the log file, if any.
func setupLogging(v *viper.Viper) (io.Closer, error) {
	interactive := v.GetBool("no-background") || logging.IsTTY(os.Stderr)
	return resolveLogging(interactive, v.GetString("log-format"), v.GetString("log-level"), v.GetString("log-file"))
}

// resolveLogging sets up the global slog logger after flags are parsed.
func resolveLogging(interactive bool, formatStr, levelStr, path string) (io.Closer, error) {
	format := logging.ParseFormat(formatStr)
	level := logging.ParseLevel(levelStr)
	if levelStr == "" {
		if interactive {
			level = logging.ParseLevel("debug")
		} else {
			level = logging.ParseLevel("info")
		}
	}
	return logging.Setup(format, level, path)
}
