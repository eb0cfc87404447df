package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/soratobu/lark-front/internal"
	"github.com/soratobu/lark-front/internal/config"
	"github.com/soratobu/lark-front/internal/log"
)

var BuildVersion = "dev"

func generateDefaultConfig(path string) error {
	defaultConfig := map[string]any{
		"version": "v1",
		"server": map[string]any{
			"baseURL":        "https://app.yourcompany.com",
			"addr":           ":8080",
			"allowedOrigins": []string{"https://app.yourcompany.com"},
		},
		"lark": map[string]any{
			"appId":       map[string]string{"$env": "LARK_APP_ID"},
			"appSecret":   map[string]string{"$env": "LARK_APP_SECRET"},
			"redirectURI": "https://app.yourcompany.com/api/auth/callback",
			"apiBaseURL":  "https://open.larksuite.com",
			"timeout":     "10s",
		},
		"auth": map[string]any{
			"skipStateValidation": false,
		},
	}

	data, err := json.MarshalIndent(defaultConfig, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

func validateConfig(path string) error {
	fmt.Printf("Validating: %s\n", path)

	if _, err := config.Load(path); err != nil {
		fmt.Printf("\nError: %v\n\nResult: FAIL\n", err)
		return err
	}

	fmt.Println("\nResult: PASS")
	return nil
}

func main() {
	conf := flag.String("config", "", "path to config file (required)")
	version := flag.Bool("version", false, "print version and exit")
	help := flag.Bool("help", false, "print help and exit")
	configInit := flag.String("config-init", "", "generate default config file at specified path")
	validate := flag.Bool("validate", false, "validate config file and exit")
	flag.Parse()
	if *help {
		flag.Usage()
		return
	}
	if *version {
		fmt.Println(BuildVersion)
		return
	}
	if *configInit != "" {
		if err := generateDefaultConfig(*configInit); err != nil {
			log.LogError("Failed to generate config: %v", err)
			os.Exit(1)
		}
		fmt.Printf("Generated default config at: %s\n", *configInit)
		return
	}

	if *validate {
		if *conf == "" {
			fmt.Fprintf(os.Stderr, "Error: -config flag is required for validation\n")
			os.Exit(1)
		}
		if err := validateConfig(*conf); err != nil {
			os.Exit(1)
		}
		return
	}

	if *conf == "" {
		fmt.Fprintf(os.Stderr, "Error: -config flag is required\n")
		fmt.Fprintf(os.Stderr, "Run with -help for usage information\n")
		os.Exit(1)
	}

	cfg, err := config.Load(*conf)
	if err != nil {
		log.LogError("Failed to load config: %v", err)
		os.Exit(1)
	}

	log.LogInfoWithFields("main", "Starting lark-front", map[string]any{
		"version": BuildVersion,
		"config":  *conf,
	})

	app, err := internal.NewLarkFront(cfg)
	if err != nil {
		log.LogError("Failed to create application: %v", err)
		os.Exit(1)
	}

	if err := app.Run(); err != nil {
		log.LogError("Failed to start server: %v", err)
		os.Exit(1)
	}
}
