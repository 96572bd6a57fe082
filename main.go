package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/n0madic/go-llmportal/internal/auth"
	"github.com/n0madic/go-llmportal/internal/config"
	"github.com/n0madic/go-llmportal/internal/models"
	"github.com/n0madic/go-llmportal/internal/orchestrator"
	"github.com/n0madic/go-llmportal/internal/types"
)

var (
	configFile string
	v          = viper.New()
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "llmportal",
		Short:         "Capability-aware gateway in front of OpenAI-compatible APIs",
		Version:       config.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "configuration file path")
	rootCmd.PersistentFlags().Bool("verbose", false, "log every request")
	rootCmd.PersistentFlags().Bool("debug", false, "dump inbound and upstream requests")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug|info|warn|error)")
	bindFlag(rootCmd, "verbose", "server.verbose")
	bindFlag(rootCmd, "debug", "server.debug")
	bindFlag(rootCmd, "log-level", "log.level")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE:  runServe,
	}
	serveCmd.Flags().String("host", "", "bind host")
	serveCmd.Flags().Int("port", 0, "listen port")
	serveCmd.Flags().String("access-token", "", "require this bearer token on /v1 routes")
	serveCmd.Flags().String("session-backend", "", "session backend (memory|redis)")
	bindFlag(serveCmd, "host", "server.host")
	bindFlag(serveCmd, "port", "server.port")
	bindFlag(serveCmd, "access-token", "server.access_token")
	bindFlag(serveCmd, "session-backend", "session.backend")

	classifyCmd := &cobra.Command{
		Use:   "classify <model>...",
		Short: "Show the capabilities and route of model ids",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runClassify,
	}

	modelsCmd := &cobra.Command{
		Use:   "models",
		Short: "List upstream models with their capabilities",
		RunE:  runModels,
	}
	modelsCmd.Flags().Bool("refresh", false, "bypass the cached listing")
	modelsCmd.Flags().Bool("static", false, "print the built-in catalog only")

	askCmd := &cobra.Command{
		Use:   "ask <message>",
		Short: "Dispatch one message through the orchestrator",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runAsk,
	}
	askCmd.Flags().StringP("model", "m", "gpt-4o", "model id")
	askCmd.Flags().String("conversation", "", "conversation id")
	askCmd.Flags().String("system", "", "system message")
	askCmd.Flags().Bool("json", false, "print the full result as JSON")

	healthCmd := &cobra.Command{
		Use:   "health",
		Short: "Probe the upstream",
		RunE:  runHealth,
	}

	loginCmd := &cobra.Command{
		Use:   "login",
		Short: "Store an API key in the credentials file",
		RunE:  runLogin,
	}
	loginCmd.Flags().String("api-key", "", "API key (read from stdin when empty)")
	loginCmd.Flags().String("organization", "", "organization id")

	limitsCmd := &cobra.Command{
		Use:   "limits",
		Short: "Show the last captured upstream rate limits",
		RunE:  runLimits,
	}

	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
	}
	configShowCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration with secrets masked",
		RunE:  runConfigShow,
	}
	configValidateCmd := &cobra.Command{
		Use:   "validate [filename]",
		Short: "Validate a configuration file",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runConfigValidate,
	}
	configCmd.AddCommand(configShowCmd, configValidateCmd)

	rootCmd.AddCommand(serveCmd, classifyCmd, modelsCmd, askCmd, healthCmd, loginCmd, limitsCmd, configCmd)
	return rootCmd
}

// bindFlag ties a flag to a config key; unchanged flags fall through to
// file and environment.
func bindFlag(cmd *cobra.Command, name, key string) {
	f := cmd.Flags().Lookup(name)
	if f == nil {
		f = cmd.PersistentFlags().Lookup(name)
	}
	if err := v.BindPFlag(key, f); err != nil {
		panic(fmt.Sprintf("bind flag %s: %v", name, err))
	}
}

func loadConfig() (*config.Config, error) {
	return config.LoadWith(v, configFile)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()

	srv := a.server()
	srv.Prefetch(ctx)

	go func() {
		<-ctx.Done()
		a.log.Info("server.shutdown")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.log.Error("server.shutdown.failed", zap.Error(err))
		}
	}()

	a.log.Info("llmportal.starting",
		zap.String("addr", cfg.Server.Addr()),
		zap.String("upstream", cfg.OpenAI.BaseURL),
		zap.String("session_backend", cfg.Session.Backend),
	)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

func runClassify(cmd *cobra.Command, args []string) error {
	type row struct {
		models.Capabilities
		Target     string `json:"target,omitempty"`
		Reason     string `json:"reason,omitempty"`
		RouteError string `json:"route_error,omitempty"`
	}
	out := make([]row, 0, len(args))
	for _, id := range args {
		r := row{Capabilities: models.Classify(models.NormalizeModelName(id))}
		if route, err := orchestrator.Resolve(id); err != nil {
			r.RouteError = err.Error()
		} else {
			r.Target = string(route.Target)
			r.Reason = route.Reason
		}
		out = append(out, r)
	}
	return printJSON(out)
}

func runModels(cmd *cobra.Command, args []string) error {
	if static, _ := cmd.Flags().GetBool("static"); static {
		return printJSON(models.Catalog())
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer a.close()

	var list []models.RemoteModel
	if refresh, _ := cmd.Flags().GetBool("refresh"); refresh {
		list, err = a.registry.Refresh(cmd.Context())
		if err != nil {
			a.log.Warn("models.refresh.failed", zap.Error(err))
		}
	} else {
		list = a.registry.Models(cmd.Context())
	}
	for _, m := range list {
		fmt.Printf("%-32s %-12s %s\n", m.ID, models.GroupFor(m.Capabilities), m.Capabilities.Source)
	}
	return nil
}

func runAsk(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer a.close()

	model, _ := cmd.Flags().GetString("model")
	conversation, _ := cmd.Flags().GetString("conversation")
	system, _ := cmd.Flags().GetString("system")
	res, err := a.orch.Dispatch(cmd.Context(), orchestrator.Payload{
		ConversationID: conversation,
		ModelID:        model,
		SystemMessage:  system,
		UserInput:      types.TextTurn(types.RoleUser, strings.Join(args, " ")),
	})
	if err != nil {
		return err
	}
	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		return printJSON(res)
	}
	if res.Warning != "" {
		fmt.Fprintln(os.Stderr, "warning:", res.Warning)
	}
	fmt.Println(res.Content)
	if res.ConversationID != "" {
		fmt.Fprintln(os.Stderr, "conversation:", res.ConversationID)
	}
	return nil
}

func runHealth(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer a.close()

	ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
	defer cancel()
	if err := a.orch.Health(ctx); err != nil {
		return fmt.Errorf("upstream %s unhealthy: %w", cfg.OpenAI.BaseURL, err)
	}
	fmt.Printf("upstream %s ok\n", cfg.OpenAI.BaseURL)
	return nil
}

func runLogin(cmd *cobra.Command, args []string) error {
	key, _ := cmd.Flags().GetString("api-key")
	org, _ := cmd.Flags().GetString("organization")
	if strings.TrimSpace(key) == "" {
		fmt.Fprint(os.Stderr, "API key: ")
		if _, err := fmt.Scanln(&key); err != nil {
			return fmt.Errorf("read api key: %w", err)
		}
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return errors.New("an API key is required")
	}
	if err := auth.WriteCredentialsFile(&auth.Credentials{APIKey: key, Organization: org}); err != nil {
		return err
	}
	fmt.Printf("Saved %s to %s\n", auth.MaskKey(key), auth.HomeDir())
	return nil
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	masked := *cfg
	masked.OpenAI.APIKey = auth.MaskKey(cfg.OpenAI.APIKey)
	masked.OpenAI.OAuth.ClientSecret = auth.MaskKey(cfg.OpenAI.OAuth.ClientSecret)
	masked.Server.AccessToken = auth.MaskKey(cfg.Server.AccessToken)
	masked.Session.Redis.Password = auth.MaskKey(cfg.Session.Redis.Password)
	return printJSON(masked)
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	path := configFile
	if len(args) == 1 {
		path = args[0]
	}
	if _, err := config.Load(path); err != nil {
		return err
	}
	fmt.Println("configuration is valid")
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
