package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/modelgate/modelgate/internal/backends"
	"github.com/modelgate/modelgate/internal/config"
	"github.com/modelgate/modelgate/internal/router"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	Long:  `Manage the gateway configuration.`,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration interactively",
	Long:  `Initialize configuration by prompting for backend details.`,
	RunE:  runConfigInit,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long:  `Display the current configuration.`,
	RunE:  runConfigShow,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration",
	Long:  `Validate the current configuration for errors.`,
	RunE:  runConfigValidate,
}

func init() {
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configValidateCmd)
}

func runConfigInit(cmd *cobra.Command, _ []string) error {
	color.Blue("ModelGate Configuration Setup")
	color.Yellow("Follow the prompts to configure your first backend.")

	reader := bufio.NewReader(os.Stdin)

	fmt.Print("\nBackend Name (e.g., claude-main, gpt4-pool): ")
	name, _ := reader.ReadString('\n')
	name = strings.TrimSpace(name)

	fmt.Printf("Vendor (%s, %s, %s, %s): ",
		backends.VendorAnthropic, backends.VendorOpenAI, backends.VendorGemini, backends.VendorOllama)
	vendor, _ := reader.ReadString('\n')
	vendor = strings.TrimSpace(vendor)

	fmt.Print("API Key (leave empty for local backends): ")
	apiKey, _ := reader.ReadString('\n')
	apiKey = strings.TrimSpace(apiKey)

	fmt.Print("Base URL (leave empty for the vendor default): ")
	baseURL, _ := reader.ReadString('\n')
	baseURL = strings.TrimSpace(baseURL)

	fmt.Print("Vendor Model ID: ")
	model, _ := reader.ReadString('\n')
	model = strings.TrimSpace(model)

	fmt.Print("Gateway API Key (optional, for client authentication): ")
	gatewayKey, _ := reader.ReadString('\n')
	gatewayKey = strings.TrimSpace(gatewayKey)

	cfg := &config.Config{
		Host:   config.DefaultHost,
		Port:   config.DefaultPort,
		APIKey: gatewayKey,
		Backends: []backends.Config{
			{
				Name:    name,
				Vendor:  vendor,
				APIKey:  apiKey,
				BaseURL: baseURL,
				Model:   model,
			},
		},
		Router: router.Config{Default: name},
	}

	if err := cfgMgr.Save(cfg); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	color.Green("Configuration saved successfully to: %s", cfgMgr.GetPath())
	color.Cyan("You can now start the gateway with: %s serve", AppName)

	return nil
}

func runConfigShow(cmd *cobra.Command, _ []string) error {
	if !cfgMgr.Exists() {
		color.Yellow("No configuration found. Run '%s config init' to create one.", AppName)
		return nil
	}

	cfg, err := cfgMgr.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	color.Blue("Current Configuration:")
	fmt.Printf("  %-15s: %s\n", "Host", cfg.Host)
	fmt.Printf("  %-15s: %d\n", "Port", cfg.Port)
	fmt.Printf("  %-15s: %s\n", "API Key", maskString(cfg.APIKey))
	fmt.Printf("  %-15s: %s\n", "Config Path", cfgMgr.GetPath())

	fmt.Println("\nBackends:")
	for _, b := range cfg.Backends {
		fmt.Printf("  - Name: %s\n", b.Name)
		fmt.Printf("    Vendor: %s\n", b.Vendor)
		if b.BaseURL != "" {
			fmt.Printf("    Base URL: %s\n", b.BaseURL)
		}
		fmt.Printf("    API Key: %s\n", maskString(b.APIKey))
		if b.Model != "" {
			fmt.Printf("    Model: %s\n", b.Model)
		}
		if len(b.ModelMapping) > 0 {
			fmt.Printf("    Model Mapping: %v\n", b.ModelMapping)
		}
		fmt.Printf("    Enabled: %v\n", b.IsEnabled())
		fmt.Println()
	}

	fmt.Println("Router Configuration:")
	fmt.Printf("  %-15s: %s\n", "Default", cfg.Router.Default)
	for model, backend := range cfg.Router.ModelRoutes {
		fmt.Printf("  %-15s: %s -> %s\n", "Route", model, backend)
	}

	if len(cfg.Balancer.Candidates) > 0 {
		fmt.Println("\nWeighted Balancer:")
		for _, c := range cfg.Balancer.Candidates {
			fmt.Printf("  - %s (weight %d)\n", c.Name, c.Weight)
		}
	}
	if len(cfg.Fallback.Main) > 0 {
		fmt.Println("\nFallback Router:")
		fmt.Printf("  %-15s: %v\n", "Main", cfg.Fallback.Main)
		fmt.Printf("  %-15s: %v\n", "Fallback", cfg.Fallback.Fallback)
	}

	return nil
}

func runConfigValidate(cmd *cobra.Command, _ []string) error {
	if !cfgMgr.Exists() {
		return fmt.Errorf("no configuration found")
	}

	cfg, err := cfgMgr.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	var problems []string

	if len(cfg.Backends) == 0 {
		problems = append(problems, "no backends configured")
	}

	names := map[string]bool{}
	for i, b := range cfg.Backends {
		if b.Name == "" {
			problems = append(problems, fmt.Sprintf("backend %d: name is required", i))
		}
		switch b.Vendor {
		case backends.VendorAnthropic, backends.VendorOpenAI, backends.VendorGemini, backends.VendorOllama:
		default:
			problems = append(problems, fmt.Sprintf("backend %d: unknown vendor %q", i, b.Vendor))
		}
		names[b.Name] = true
	}

	if cfg.Router.Default != "" && !names[cfg.Router.Default] {
		problems = append(problems, fmt.Sprintf("router default %q is not a configured backend", cfg.Router.Default))
	}
	for model, backend := range cfg.Router.ModelRoutes {
		if !names[backend] {
			problems = append(problems, fmt.Sprintf("route %q -> %q: backend not configured", model, backend))
		}
	}
	for _, c := range cfg.Balancer.Candidates {
		if !names[c.Name] {
			problems = append(problems, fmt.Sprintf("balancer candidate %q is not a configured backend", c.Name))
		}
		if c.Weight < 0 {
			problems = append(problems, fmt.Sprintf("balancer candidate %q has negative weight", c.Name))
		}
	}
	for _, n := range append(append([]string{}, cfg.Fallback.Main...), cfg.Fallback.Fallback...) {
		if !names[n] {
			problems = append(problems, fmt.Sprintf("fallback pool entry %q is not a configured backend", n))
		}
	}

	if len(problems) > 0 {
		color.Red("Configuration validation failed:")
		for _, p := range problems {
			fmt.Printf("  - %s\n", p)
		}
		return fmt.Errorf("configuration validation failed")
	}

	color.Green("Configuration is valid!")
	return nil
}

func maskString(s string) string {
	if s == "" {
		return "(not set)"
	}
	if len(s) <= 8 {
		return strings.Repeat("*", len(s))
	}
	return s[:4] + strings.Repeat("*", len(s)-8) + s[len(s)-4:]
}
