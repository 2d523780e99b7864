package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/noah-isme/diskuss-client/internal/api"
	"github.com/noah-isme/diskuss-client/internal/config"
	"github.com/noah-isme/diskuss-client/internal/dto"
	"github.com/noah-isme/diskuss-client/internal/models"
	"github.com/noah-isme/diskuss-client/internal/session"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger := zerolog.New(os.Stderr).With().Timestamp().Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reader := bufio.NewReader(os.Stdin)
	username := prompt(reader, "username: ")
	password := prompt(reader, "password: ")

	validate := validator.New(validator.WithRequiredStructEnabled())
	apiClient := api.New(cfg.APIBaseURL, &http.Client{Timeout: cfg.RequestTimeout}, validate, logger)

	token, err := apiClient.Login(ctx, username, password)
	if err != nil {
		log.Fatalf("login failed: %v", err)
	}

	user, err := apiClient.Me(ctx, token)
	if err != nil {
		log.Fatalf("failed to fetch profile: %v", err)
	}

	sess := session.New(cfg, user, token, logger)
	sess.Stream().Notify(func(msg models.Message) {
		who := msg.SenderID
		if msg.SenderID == user.ID {
			who = "me"
		}
		fmt.Printf("[%s] %s: %s\n", msg.Timestamp.Format("15:04"), who, msg.Text)
	})

	if err := sess.Start(ctx); err != nil {
		log.Fatalf("failed to start session: %v", err)
	}
	defer sess.Close()

	fmt.Printf("connected as @%s. /list, /select <n>, /older, /new <username>, /quit\n", user.Username)
	repl(ctx, reader, sess, apiClient, token, user)
}

func repl(ctx context.Context, reader *bufio.Reader, sess *session.Session, apiClient *api.Client, token string, user models.User) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := reader.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimSpace(line)

		switch {
		case line == "/quit":
			return

		case line == "/list":
			for i, disc := range sess.Directory().Ordered() {
				names := make([]string, 0, len(disc.Participants))
				for _, p := range disc.OtherParticipants(user.ID) {
					names = append(names, "@"+p.Username)
				}
				preview := ""
				if disc.LastMessage != nil {
					preview = " | " + disc.LastMessage.Text
				}
				fmt.Printf("%d) %s%s\n", i+1, strings.Join(names, ", "), preview)
			}

		case strings.HasPrefix(line, "/select "):
			n, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(line, "/select ")))
			ordered := sess.Directory().Ordered()
			if err != nil || n < 1 || n > len(ordered) {
				fmt.Println("unknown discussion")
				continue
			}
			if _, err := sess.Select(ctx, ordered[n-1].ID); err != nil {
				fmt.Printf("select failed: %v\n", err)
				continue
			}
			for _, msg := range sess.Stream().Messages() {
				fmt.Printf("[%s] %s: %s\n", msg.Timestamp.Format("15:04"), msg.SenderID, msg.Text)
			}

		case strings.HasPrefix(line, "/new "):
			query := strings.TrimSpace(strings.TrimPrefix(line, "/new "))
			found, err := apiClient.SearchUsers(ctx, token, query)
			if err != nil {
				fmt.Printf("search failed: %v\n", err)
				continue
			}
			if len(found) == 0 {
				fmt.Println("no matching user")
				continue
			}
			participants := append(dto.UserIDs(found[:1]), user.ID)
			disc, err := apiClient.CreateDiscussion(ctx, token, participants)
			if err != nil {
				fmt.Printf("create failed: %v\n", err)
				continue
			}
			fmt.Printf("created discussion %s with @%s\n", disc.ID, found[0].Username)
			if err := sess.Directory().Load(ctx); err != nil {
				fmt.Printf("reload failed: %v\n", err)
			}

		case line == "/older":
			if err := sess.Stream().LoadOlder(ctx); err != nil {
				fmt.Printf("load failed: %v\n", err)
			}

		case line == "/state":
			fmt.Println(sess.State())

		default:
			if err := sess.Send(ctx, line); err != nil {
				fmt.Printf("send failed: %v\n", err)
			}
		}
	}
}

func prompt(reader *bufio.Reader, label string) string {
	fmt.Print(label)
	line, _ := reader.ReadString('\n')
	return strings.TrimSpace(line)
}
