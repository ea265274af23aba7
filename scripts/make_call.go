package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/harunnryd/kata/pkg/configutil"
	"github.com/harunnryd/kata/pkg/transports"
	twiliotransport "github.com/harunnryd/kata/pkg/transports/twilio"
	"github.com/spf13/viper"
)

// Places an outbound call through the configured Twilio transport without
// starting the full assistant.

type transportConfig struct {
	Transport struct {
		Provider string         `mapstructure:"provider"`
		Settings map[string]any `mapstructure:"settings"`
	} `mapstructure:"transport"`
}

type twilioSettings struct {
	AccountSID string `mapstructure:"account_sid"`
	AuthToken  string `mapstructure:"auth_token"`
	PublicURL  string `mapstructure:"public_url"`
	VoicePath  string `mapstructure:"voice_path"`
}

func main() {
	configPath := flag.String("config", "examples/assistant/config.local.yaml", "")
	from := flag.String("from", "", "")
	to := flag.String("to", "", "")
	voiceURL := flag.String("voice_url", "", "")
	sendDigits := flag.String("send_digits", "", "")
	flag.Parse()
	if *from == "" || *to == "" {
		fmt.Println("usage: make_call -from=+123 -to=+456 [-config=...]")
		os.Exit(1)
	}
	cfg, err := loadTransportConfig(*configPath)
	if err != nil {
		fmt.Println("config error:", err)
		os.Exit(1)
	}
	var settings twilioSettings
	if err := configutil.DecodeSettings(cfg.Transport.Settings, &settings); err != nil {
		fmt.Println("settings error:", err)
		os.Exit(1)
	}
	dialer := twiliotransport.NewDialer(twiliotransport.Config{
		AccountSID: settings.AccountSID,
		AuthToken:  settings.AuthToken,
		PublicURL:  settings.PublicURL,
		VoicePath:  settings.VoicePath,
	})
	var callSID string
	if *sendDigits != "" {
		callSID, err = dialer.DialWithOptions(context.Background(), *to, *from, *voiceURL,
			transports.DialOptions{SendDigits: *sendDigits})
	} else {
		callSID, err = dialer.Dial(context.Background(), *to, *from, *voiceURL)
	}
	if err != nil {
		fmt.Println("call error:", err)
		os.Exit(1)
	}
	fmt.Println("call_sid:", callSID)
}

func loadTransportConfig(path string) (transportConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return transportConfig{}, err
	}
	var cfg transportConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return transportConfig{}, err
	}
	for k, val := range cfg.Transport.Settings {
		if s, ok := val.(string); ok {
			cfg.Transport.Settings[k] = os.ExpandEnv(s)
		}
	}
	if !strings.EqualFold(cfg.Transport.Provider, "twilio") {
		return transportConfig{}, fmt.Errorf("transport.provider must be twilio, got %q", cfg.Transport.Provider)
	}
	return cfg, nil
}
