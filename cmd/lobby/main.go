// cmd/lobby/main.go
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"

	"github.com/jason-s-yu/sionline/internal/config"
	"github.com/jason-s-yu/sionline/internal/content"
	"github.com/jason-s-yu/sionline/internal/lobby"
	"github.com/jason-s-yu/sionline/internal/messages"
	"github.com/jason-s-yu/sionline/internal/models"
)

const help = `commands:
  games                     list visible games
  users                     list users in the lobby
  select <id>               select a game
  search <text>             filter by name or join link
  filter [new] [sport] [tv] [nopassword]
  password <text>           password for protected games
  join [viewer|player|showman]
  create <name> <library uri | path to package file>
  link                      share link of the selected game
  say <text>                chat
  cancel                    abort a running create or join
  quit`

func main() {
	cfgPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		logrus.Fatalf("config: %v", err)
	}
	logger := logrus.New()
	logger.SetLevel(cfg.Level())
	logger.SetOutput(os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	l, err := lobby.Enter(ctx, cfg, lobby.WithLogger(logger))
	if err != nil {
		if msg := messages.ForError(err); msg != "" {
			fmt.Fprintln(os.Stderr, msg)
		}
		os.Exit(1)
	}
	defer l.Close()

	info := l.Host()
	fmt.Printf("%s: %s (max package %s)\n", messages.AppName, info.Name, humanize.IBytes(uint64(info.MaxPackageBytes())))
	for _, m := range l.Messages() {
		printMessage(m)
	}
	l.SubscribeMessages(printMessage)
	l.SubscribeError(func(text string) {
		if text != "" {
			fmt.Println("error:", text)
		}
	})
	l.SubscribeShowProgress(func(show bool) {
		if show {
			fmt.Println(messages.SendingPackageToServer)
		}
	})

	lines := make(chan string)
	go func() {
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			lines <- sc.Text()
		}
		close(lines)
	}()

	fmt.Println(help)
	for {
		select {
		case <-ctx.Done():
			return
		case <-l.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if quit := run(ctx, l, line); quit {
				return
			}
		}
	}
}

func run(ctx context.Context, l *lobby.Lobby, line string) bool {
	cmd, arg, _ := strings.Cut(strings.TrimSpace(line), " ")
	arg = strings.TrimSpace(arg)

	switch cmd {
	case "":
	case "games":
		sel, _ := l.Selected()
		for _, g := range l.Games() {
			mark := " "
			if sel != nil && sel.ID == g.ID {
				mark = "*"
			}
			lock := ""
			if g.PasswordRequired {
				lock = " [password]"
			}
			fmt.Printf("%s %4d  %-24s %-10s %s%s\n", mark, g.ID, g.Name, messages.StageText(g),
				messages.PackageDisplayName(g.PackageName), lock)
		}
		fmt.Println("filter:", messages.FilterSummary(l.Filter()))
	case "users":
		fmt.Println(strings.Join(l.Users(), ", "))
	case "select":
		id, err := strconv.Atoi(arg)
		if err != nil || !l.Select(id) {
			fmt.Println("no such visible game")
		}
	case "search":
		l.SetSearch(arg)
	case "filter":
		l.SetFilter(parseFilter(arg))
	case "password":
		l.SetPassword(arg)
	case "link":
		if link, ok := l.ShareLink(); ok {
			fmt.Println(link)
		}
	case "join":
		sel, ok := l.Selected()
		if !ok {
			fmt.Println("select a game first")
			return false
		}
		if !l.CanJoin() {
			fmt.Println(messages.PasswordRequired)
			return false
		}
		sess, err := l.JoinGame(ctx, sel.ID, parseRole(arg))
		if err == nil {
			fmt.Printf("%s %d\n", messages.GameEntering, sess.GameID)
			sess.Close()
		}
	case "create":
		name, source, _ := strings.Cut(arg, " ")
		key, blob, err := packageSource(strings.TrimSpace(source))
		if err != nil {
			fmt.Println(messages.BadPackage+":", err)
			return false
		}
		settings := models.GameSettings{Name: name, Role: models.RoleShowman}
		sess, err := l.CreateGame(ctx, settings, key, blob)
		if err == nil {
			fmt.Printf("%s %d\n", messages.GameEntering, sess.GameID)
			sess.Close()
		}
	case "say":
		_ = l.Say(ctx, arg)
	case "cancel":
		l.Cancel()
	case "quit", "exit":
		return true
	default:
		fmt.Println(help)
	}
	return false
}

func printMessage(m lobby.Message) {
	from := m.From
	if from == "" {
		from = "*"
	}
	fmt.Printf("[%s] %s: %s\n", m.Time.Format("15:04"), from, m.Text)
}

func parseFilter(arg string) models.Filter {
	var f models.Filter
	for _, w := range strings.Fields(strings.ToLower(arg)) {
		switch w {
		case "new":
			f |= models.FilterNew
		case "sport":
			f |= models.FilterSport
		case "tv":
			f |= models.FilterTv
		case "nopassword":
			f |= models.FilterNoPassword
		}
	}
	return f
}

func parseRole(arg string) models.Role {
	switch arg {
	case "player":
		return models.RolePlayer
	case "showman":
		return models.RoleShowman
	default:
		return models.RoleViewer
	}
}

// packageSource treats an existing file as a custom package and anything
// else as a library uri. An empty source is a random package.
func packageSource(source string) (models.PackageKey, *content.Blob, error) {
	if source == "" {
		return models.PackageKey{}, nil, nil
	}
	if _, err := os.Stat(source); err != nil {
		return models.PackageKey{URI: source}, nil, nil
	}
	blob, err := content.FileBlob(source)
	if err != nil {
		return models.PackageKey{}, nil, err
	}
	return models.PackageKey{Name: blob.Key.Name, Hash: blob.Key.Hash}, &blob, nil
}
