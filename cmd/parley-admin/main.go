// ABOUTME: Admin CLI for parley-gateway account and conversation management
// ABOUTME: Talks to the REST API with JWT authentication from a TOML config

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/fatih/color"

	"github.com/2389/parley-gateway/internal/store"
)

const banner = `
                     _                            _           _
 _ __   __ _ _ __| | ___ _   _        __ _  __| |_ __ ___ (_)_ __
| '_ \ / _' | '__| |/ _ \ | | |_____ / _' |/ _' | '_ ' _ \| | '_ \
| |_) | (_| | |  | |  __/ |_| |_____| (_| | (_| | | | | | | | | | |
| .__/ \__,_|_|  |_|\___|\__, |      \__,_|\__,_|_| |_| |_|_|_| |_|
|_|                      |___/
`

// adminConfig is the CLI configuration stored at ~/.config/parley/admin.toml
type adminConfig struct {
	GatewayURL string `toml:"gateway_url"`
	Token      string `toml:"token"`
}

func configPath() string {
	if envPath := os.Getenv("PARLEY_ADMIN_CONFIG"); envPath != "" {
		return envPath
	}
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "admin.toml"
		}
		configDir = filepath.Join(homeDir, ".config")
	}
	return filepath.Join(configDir, "parley", "admin.toml")
}

func loadConfig() *adminConfig {
	cfg := &adminConfig{GatewayURL: "http://localhost:8080"}
	if _, err := toml.DecodeFile(configPath(), cfg); err != nil && !os.IsNotExist(err) {
		color.Yellow("warning: reading %s: %v", configPath(), err)
	}
	if url := os.Getenv("PARLEY_GATEWAY_URL"); url != "" {
		cfg.GatewayURL = url
	}
	if token := os.Getenv("PARLEY_TOKEN"); token != "" {
		cfg.Token = token
	}
	cfg.GatewayURL = strings.TrimSuffix(cfg.GatewayURL, "/")
	return cfg
}

func saveConfig(cfg *adminConfig) error {
	path := configPath()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cfg := loadConfig()
	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "login":
		err = cmdLogin(cfg, args)
	case "me":
		err = cmdMe(cfg)
	case "health":
		err = cmdHealth(cfg)
	case "accounts":
		err = cmdAccounts(cfg)
	case "conversations":
		err = cmdConversations(cfg, args)
	case "messages":
		err = cmdMessages(cfg, args)
	case "send":
		err = cmdSend(cfg, args)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		color.Red("Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	cyan := color.New(color.FgCyan)
	yellow := color.New(color.FgYellow)

	cyan.Print(banner)
	fmt.Println()
	fmt.Println("Usage: parley-admin <command> [args]")
	fmt.Println()
	yellow.Println("Commands:")
	fmt.Println("  login <username> <password>       Log in as a manager and store the token")
	fmt.Println("  me                                Show your identity")
	fmt.Println("  health                            Check gateway health")
	fmt.Println("  accounts                          List your managed accounts")
	fmt.Println("  conversations <account-id>        List conversations for an account")
	fmt.Println("  messages <conversation-id>        Show a conversation transcript")
	fmt.Println("  send <conversation-id> <text...>  Send a message into a conversation")
	fmt.Println()
	yellow.Println("Environment:")
	fmt.Println("  PARLEY_GATEWAY_URL   Gateway base URL (default: http://localhost:8080)")
	fmt.Println("  PARLEY_TOKEN         JWT token (overrides the stored one)")
	fmt.Println("  PARLEY_ADMIN_CONFIG  Config file path (default: ~/.config/parley/admin.toml)")
	fmt.Println()
}

// request performs an authenticated JSON request and decodes the response body
// into out. Non-2xx responses are turned into errors carrying the server's
// error message.
func request(cfg *adminConfig, method, path string, body, out any) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var reqBody io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reqBody = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, cfg.GatewayURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+cfg.Token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s (status %d)", apiErr.Error, resp.StatusCode)
		}
		return fmt.Errorf("status %d", resp.StatusCode)
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}
	return nil
}

func cmdLogin(cfg *adminConfig, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: parley-admin login <username> <password>")
	}

	var resp struct {
		Token string      `json:"token"`
		User  *store.User `json:"user"`
	}
	err := request(cfg, http.MethodPost, "/api/auth/login", map[string]string{
		"username": args[0],
		"password": args[1],
	}, &resp)
	if err != nil {
		return err
	}

	cfg.Token = resp.Token
	if err := saveConfig(cfg); err != nil {
		return err
	}

	color.Green("Logged in as %s", resp.User.Nickname)
	fmt.Printf("Token stored in %s\n", configPath())
	return nil
}

func cmdMe(cfg *adminConfig) error {
	var resp struct {
		User *store.User `json:"user"`
		Kind string      `json:"kind"`
	}
	if err := request(cfg, http.MethodGet, "/api/auth/profile", nil, &resp); err != nil {
		return err
	}

	cyan := color.New(color.FgCyan)
	cyan.Println("Identity")
	cyan.Println("--------")
	fmt.Printf("ID:       %s\n", resp.User.ID)
	fmt.Printf("Username: %s\n", resp.User.Username)
	fmt.Printf("Nickname: %s\n", resp.User.Nickname)
	fmt.Printf("Kind:     %s\n", resp.Kind)
	return nil
}

func cmdHealth(cfg *adminConfig) error {
	if err := request(cfg, http.MethodGet, "/healthz", nil, nil); err != nil {
		return err
	}
	color.Green("healthy")
	return nil
}

func cmdAccounts(cfg *adminConfig) error {
	var resp struct {
		Accounts []*store.ManagedAccount `json:"accounts"`
	}
	if err := request(cfg, http.MethodGet, "/api/accounts/managed", nil, &resp); err != nil {
		return err
	}

	if len(resp.Accounts) == 0 {
		fmt.Println("No managed accounts.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tUSERNAME\tNICKNAME\tSTATUS")
	for _, a := range resp.Accounts {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", a.ID, a.Username, a.Nickname, a.Status)
	}
	return w.Flush()
}

func cmdConversations(cfg *adminConfig, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: parley-admin conversations <account-id>")
	}

	var resp struct {
		Conversations []*store.Conversation `json:"conversations"`
	}
	if err := request(cfg, http.MethodGet, "/api/chat/conversations?managedAccountId="+args[0], nil, &resp); err != nil {
		return err
	}

	if len(resp.Conversations) == 0 {
		fmt.Println("No conversations.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tUNREAD\tLAST MESSAGE")
	for _, conv := range resp.Conversations {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", conv.ID, conv.Name, conv.UnreadCount, truncate(conv.LastMessage, 48))
	}
	return w.Flush()
}

func cmdMessages(cfg *adminConfig, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: parley-admin messages <conversation-id>")
	}

	var resp struct {
		Messages []*store.Message `json:"messages"`
	}
	if err := request(cfg, http.MethodGet, "/api/chat/conversations/"+args[0]+"/messages", nil, &resp); err != nil {
		return err
	}

	gray := color.New(color.FgHiBlack)
	for _, msg := range resp.Messages {
		gray.Printf("%s ", msg.Timestamp.Local().Format("2006-01-02 15:04:05"))
		color.New(color.FgCyan).Printf("%s: ", msg.SenderName)
		fmt.Println(msg.Content)
	}
	if len(resp.Messages) == 0 {
		fmt.Println("No messages.")
	}
	return nil
}

func cmdSend(cfg *adminConfig, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: parley-admin send <conversation-id> <text...>")
	}

	var resp struct {
		Message *store.Message `json:"message"`
	}
	err := request(cfg, http.MethodPost, "/api/chat/messages", map[string]string{
		"conversationId": args[0],
		"content":        strings.Join(args[1:], " "),
	}, &resp)
	if err != nil {
		return err
	}

	color.Green("sent %s as %s", resp.Message.ID, resp.Message.SenderName)
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}
