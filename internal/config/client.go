package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Client is the terminal client configuration. Flags win over CAST_*
// environment variables, which win over defaults.
type Client struct {
	Server   string
	Code     string
	Create   string
	Role     string
	Name     string
	Screen   string
	Cameras  map[string]string
	Media    string
	Device   string
	LogLevel string
	Close    bool

	ReconnectAttempts int
	ReconnectBackoff  time.Duration
}

func clientFlags(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.StringP("server", "s", "http://localhost:8080", "Cast server base URL")
	fs.StringP("code", "c", "", "Session code or id to join")
	fs.String("create", "", "Create a session of this kind (text|stream) instead of joining")
	fs.StringP("role", "r", "viewer", "Stream role (broadcaster|viewer)")
	fs.StringP("name", "n", os.Getenv("USER"), "Username for chat messages")
	fs.String("screen", "", "IVF file used as the screen device")
	fs.StringToString("camera", nil, "Camera devices as id=path.ivf, repeatable")
	fs.StringP("media", "m", "screen", "What a broadcaster captures (screen|camera|both)")
	fs.String("device", "", "Camera id to use; first camera when empty")
	fs.String("log-level", "info", "Log level")
	fs.Bool("close", false, "Close the session on exit (broadcaster or creator)")
	fs.Int("reconnect-attempts", 10, "Reconnect attempts after transport loss; negative is unbounded")
	fs.Duration("reconnect-backoff", time.Second, "First reconnect delay, doubled per attempt")
	return fs
}

// ParseClient parses command line args (without the program name).
func ParseClient(name string, args []string) (*Client, error) {
	fs := clientFlags(name)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetEnvPrefix("CAST")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(fs); err != nil {
		return nil, fmt.Errorf("bind flags: %w", err)
	}

	// viper does not decode string maps from flags.
	cameras, err := fs.GetStringToString("camera")
	if err != nil {
		return nil, err
	}

	c := &Client{
		Server:            v.GetString("server"),
		Code:              v.GetString("code"),
		Create:            v.GetString("create"),
		Role:              strings.ToLower(v.GetString("role")),
		Name:              v.GetString("name"),
		Screen:            v.GetString("screen"),
		Cameras:           cameras,
		Media:             strings.ToLower(v.GetString("media")),
		Device:            v.GetString("device"),
		LogLevel:          v.GetString("log-level"),
		Close:             v.GetBool("close"),
		ReconnectAttempts: v.GetInt("reconnect-attempts"),
		ReconnectBackoff:  v.GetDuration("reconnect-backoff"),
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Client) validate() error {
	switch {
	case c.Code == "" && c.Create == "":
		return errors.New("config: either --code or --create is required")
	case c.Code != "" && c.Create != "":
		return errors.New("config: --code and --create are exclusive")
	case c.Server == "":
		return errors.New("config: --server is required")
	case c.ReconnectBackoff <= 0:
		return errors.New("config: --reconnect-backoff must be positive")
	}
	switch c.Media {
	case "screen", "camera", "both":
	default:
		return fmt.Errorf("config: media %q not one of screen, camera, both", c.Media)
	}
	return nil
}
