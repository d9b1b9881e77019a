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

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"goalline/internal/app"
	"goalline/internal/bot"
	"goalline/internal/db"
	"goalline/internal/engine"
	"goalline/internal/server"
	"goalline/internal/tg"
)

var rootCmd = &cobra.Command{
	Use:   "gl",
	Short: "Goalline CLI",
	Long: `Goalline tracks personal goals and drives a chat bot companion.
- Workspace: your .goalline directory holding the database; goalline.yml holds bot and server settings.
- Categories: each goal lives in one of your categories; deleting a category hides it without losing history.
- Goals: numbered items that flow to_do -> in_progress -> done (archived goals drop out of listings).
- Bot: 'gl bot run' long-polls the chat gateway; unlinked chats get a verification code, linked chats can list and create goals in a short dialogue.
- Verification: paste the code from the chat into 'gl identity verify' (or the web API) to link the chat to an account.
- Event log: diary of changes, view with 'gl log tail'.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("GOALLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
}

func registerCommands() {
	rootCmd.AddCommand(userCmd())
	rootCmd.AddCommand(categoryCmd())
	rootCmd.AddCommand(goalCmd())
	rootCmd.AddCommand(identityCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(botCmd())
	rootCmd.AddCommand(serveCmd())
}

func userCmd() *cobra.Command {
	user := &cobra.Command{Use: "user", Short: "Manage accounts"}
	user.AddCommand(userCreateCmd())
	user.AddCommand(userListCmd())
	return user
}

func userCreateCmd() *cobra.Command {
	var username, password string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an account",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				u, err := e.SignUp(ctx, username, password)
				if err != nil {
					return err
				}
				return printJSONOrTable(u)
			})
		},
	}
	cmd.Flags().StringVar(&username, "username", "", "username")
	cmd.Flags().StringVar(&password, "password", "", "password")
	_ = cmd.MarkFlagRequired("username")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func userListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List accounts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListUsers(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
}

func categoryCmd() *cobra.Command {
	cat := &cobra.Command{Use: "category", Short: "Manage goal categories"}
	cat.AddCommand(categoryCreateCmd())
	cat.AddCommand(categoryListCmd())
	cat.AddCommand(categoryDeleteCmd())
	return cat
}

func categoryCreateCmd() *cobra.Command {
	var userID, title string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a category",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := e.CreateCategory(ctx, userID, title)
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "owner user id")
	cmd.Flags().StringVar(&title, "title", "", "category title")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func categoryListCmd() *cobra.Command {
	var userID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List categories",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListCategories(ctx, userID)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "owner user id")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func categoryDeleteCmd() *cobra.Command {
	var userID, id string
	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete a category",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.DeleteCategory(ctx, userID, id)
			})
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "owner user id")
	cmd.Flags().StringVar(&id, "id", "", "category id")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func goalCmd() *cobra.Command {
	goal := &cobra.Command{
		Use:   "goal",
		Short: "Manage goals",
		Long:  "Goals are numbered items in a category. They flow to_do -> in_progress -> done; archived goals drop out of listings.",
	}
	goal.AddCommand(goalCreateCmd())
	goal.AddCommand(goalListCmd())
	goal.AddCommand(goalGetCmd())
	goal.AddCommand(goalUpdateCmd())
	goal.AddCommand(goalCommentCmd())
	return goal
}

func goalCreateCmd() *cobra.Command {
	var userID, categoryID, title, description, due string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a goal",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := engine.GoalCreateOptions{
				UserID:      userID,
				CategoryID:  categoryID,
				Title:       title,
				Description: description,
			}
			if due != "" {
				t, err := time.Parse(time.RFC3339, due)
				if err != nil {
					return fmt.Errorf("invalid --due, want RFC3339: %w", err)
				}
				opts.DueDate = t
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				g, err := e.CreateGoal(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(g)
			})
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "owner user id")
	cmd.Flags().StringVar(&categoryID, "category", "", "category id")
	cmd.Flags().StringVar(&title, "title", "", "title")
	cmd.Flags().StringVar(&description, "description", "", "description")
	cmd.Flags().StringVar(&due, "due", "", "due date (RFC3339, default two weeks out)")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("category")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func goalListCmd() *cobra.Command {
	var userID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List goals",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				goals, err := e.ListGoals(ctx, userID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(goals)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Status", "Due", "Category"})
				for _, g := range goals {
					tw.AppendRow(table.Row{g.ID, g.Title, g.Status, g.DueDate, g.CategoryID})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "owner user id")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func goalGetCmd() *cobra.Command {
	var userID string
	var id int64
	cmd := &cobra.Command{
		Use:   "get",
		Short: "Show a goal",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				g, err := e.GetGoal(ctx, userID, id)
				if err != nil {
					return err
				}
				return printJSONOrTable(g)
			})
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "owner user id")
	cmd.Flags().Int64Var(&id, "id", 0, "goal id")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func goalUpdateCmd() *cobra.Command {
	var userID, status, title, description string
	var id int64
	cmd := &cobra.Command{
		Use:   "update",
		Short: "Update a goal",
		RunE: func(cmd *cobra.Command, args []string) error {
			var opts engine.GoalUpdateOptions
			if cmd.Flags().Changed("status") {
				opts.Status = &status
			}
			if cmd.Flags().Changed("title") {
				opts.Title = &title
			}
			if cmd.Flags().Changed("description") {
				opts.Description = &description
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				g, err := e.UpdateGoal(ctx, userID, id, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(g)
			})
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "owner user id")
	cmd.Flags().Int64Var(&id, "id", 0, "goal id")
	cmd.Flags().StringVar(&status, "status", "", "status (to_do, in_progress, done, archived)")
	cmd.Flags().StringVar(&title, "title", "", "title")
	cmd.Flags().StringVar(&description, "description", "", "description")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func goalCommentCmd() *cobra.Command {
	comment := &cobra.Command{Use: "comment", Short: "Comment on goals"}

	var addUser, addText string
	var addGoal int64
	add := &cobra.Command{
		Use:   "add",
		Short: "Add a comment",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := e.CreateComment(ctx, addUser, addGoal, addText)
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	add.Flags().StringVar(&addUser, "user", "", "author user id")
	add.Flags().Int64Var(&addGoal, "goal", 0, "goal id")
	add.Flags().StringVar(&addText, "text", "", "comment text")
	_ = add.MarkFlagRequired("user")
	_ = add.MarkFlagRequired("goal")
	_ = add.MarkFlagRequired("text")

	var listUser string
	var listGoal int64
	list := &cobra.Command{
		Use:   "list",
		Short: "List comments",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListComments(ctx, listUser, listGoal)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	list.Flags().StringVar(&listUser, "user", "", "owner user id")
	list.Flags().Int64Var(&listGoal, "goal", 0, "goal id")
	_ = list.MarkFlagRequired("user")
	_ = list.MarkFlagRequired("goal")

	comment.AddCommand(add, list)
	return comment
}

func identityCmd() *cobra.Command {
	identity := &cobra.Command{
		Use:   "identity",
		Short: "Manage chat identities",
		Long:  "Chat identities link a chat to an account. Message the bot from an unlinked chat to receive a code, then verify it here or through the web API.",
	}
	identity.AddCommand(identityListCmd())
	identity.AddCommand(identityVerifyCmd())
	return identity
}

func identityListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List chat identities",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListChatIdentities(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
}

func identityVerifyCmd() *cobra.Command {
	var code, userID string
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Link a chat with a verification code",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				ci, err := e.LinkChatIdentity(ctx, code, userID)
				if err != nil {
					return err
				}
				return printJSONOrTable(ci)
			})
		},
	}
	cmd.Flags().StringVar(&code, "code", "", "verification code from the chat")
	cmd.Flags().StringVar(&userID, "user", "", "account to link")
	_ = cmd.MarkFlagRequired("code")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func apikeyCmd() *cobra.Command {
	apikey := &cobra.Command{Use: "apikey", Short: "Manage API keys"}

	var createUser, createName string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create an API key",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				key, rec, err := e.CreateAPIKey(ctx, createUser, createName)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"id": rec.ID, "name": rec.Name, "key": key})
			})
		},
	}
	create.Flags().StringVar(&createUser, "user", "", "owner user id")
	create.Flags().StringVar(&createName, "name", "", "key label")
	_ = create.MarkFlagRequired("user")

	var listUser string
	list := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListAPIKeys(ctx, listUser)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	list.Flags().StringVar(&listUser, "user", "", "owner user id")

	var deleteID string
	del := &cobra.Command{
		Use:   "delete",
		Short: "Delete an API key",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.Repo.DeleteAPIKey(ctx, deleteID)
			})
		},
	}
	del.Flags().StringVar(&deleteID, "id", "", "key id")
	_ = del.MarkFlagRequired("id")

	apikey.AddCommand(create, list, del)
	return apikey
}

func logCmd() *cobra.Command {
	logc := &cobra.Command{Use: "log", Short: "Inspect the event log"}
	logc.AddCommand(logTailCmd())
	return logc
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				events, err := e.Repo.LatestEvents(ctx, n, evtType, entityKind, entityID)
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	return cmd
}

func botCmd() *cobra.Command {
	b := &cobra.Command{Use: "bot", Short: "Run the chat bot"}
	b.AddCommand(botRunCmd())
	return b
}

func botRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the bot loop",
		Long:  "Long-polls the chat gateway and answers messages. Stops on SIGINT/SIGTERM.",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			conn, cfg, err := app.Bootstrap(workspace)
			if err != nil {
				return err
			}
			defer conn.Close()
			if strings.TrimSpace(cfg.Bot.Token) == "" {
				return fmt.Errorf("bot token not configured; set bot.token in goalline.yml or GOALLINE_BOT_TOKEN")
			}
			client := tg.New(cfg.Bot.Token)
			if cfg.Bot.APIBase != "" {
				client.BaseURL = cfg.Bot.APIBase
			}
			e := app.NewEngine(conn, cfg)
			e.Notifier = client
			d := bot.New(client, e)
			if cfg.Bot.PollTimeout > 0 {
				d.PollTimeout = cfg.Bot.PollTimeout
			}
			if cfg.Bot.SessionIdleMinutes > 0 {
				d.SessionIdle = time.Duration(cfg.Bot.SessionIdleMinutes) * time.Minute
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			fmt.Println("Bot running; press Ctrl-C to stop.")
			if err := d.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			conn, cfg, err := app.Bootstrap(workspace)
			if err != nil {
				return err
			}
			defer conn.Close()
			if addr == "" {
				addr = cfg.Server.Addr
			}
			if basePath == "" {
				basePath = cfg.Server.BasePath
			}
			e := app.NewEngine(conn, cfg)
			if cfg.Bot.Token != "" {
				client := tg.New(cfg.Bot.Token)
				if cfg.Bot.APIBase != "" {
					client.BaseURL = cfg.Bot.APIBase
				}
				e.Notifier = client
			}
			authCfg := server.AuthConfig{JWTSecret: os.Getenv("GOALLINE_JWT_SECRET")}
			if authCfg.JWTSecret == "" {
				return fmt.Errorf("GOALLINE_JWT_SECRET is required for bearer auth")
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			handler, err := server.New(ctx, server.Config{Engine: e, BasePath: basePath, Auth: authCfg})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-ctx.Done()
				sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(sctx)
			}()
			fmt.Printf("Serving Goalline API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (defaults to config)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (defaults to config)")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, cfg, err := app.Bootstrap(workspace)
	if err != nil {
		return err
	}
	defer conn.Close()
	e := app.NewEngine(conn, cfg)
	return fn(ctx, e)
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
