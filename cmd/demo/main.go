// cmd/demo/main.go
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/participadf/ouvidoria/internal/app"
	"github.com/participadf/ouvidoria/internal/config"
	"github.com/participadf/ouvidoria/internal/draft"
	"github.com/participadf/ouvidoria/internal/models"
	"github.com/participadf/ouvidoria/internal/utils"
)

const help = `Comandos:
  /rascunho  mostra o rascunho atual
  /limpar    recomeça a conversa
  /sair      encerra`

// session is one terminal conversation; the transcript and draft are resent every turn.
type session struct {
	history []models.ChatTurn
	draft   models.Draft
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := cfg.EnsureDirs(); err != nil {
		log.Fatalf("create directories: %v", err)
	}

	logger := utils.GetLogger()
	if err := utils.InitLogger(filepath.Join(cfg.LogDir, "demo.log")); err != nil {
		log.Printf("file logging disabled: %v", err)
	}
	logger.SetLogLevel(utils.WARNING)
	defer logger.Sync()

	a, err := app.New(cfg)
	if err != nil {
		log.Fatalf("startup: %v", err)
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	status := a.Generator.Health(ctx)
	if !status.OK {
		fmt.Printf("Aviso: gerador indisponível (%s). As respostas podem falhar.\n", status.Error)
	}

	fmt.Println("IZA - assistente da Ouvidoria do DF")
	fmt.Printf("Modelo: %s via %s\n%s\n\n", a.Generator.Model(), cfg.Generator.Provider, help)

	run(ctx, a, os.Stdin, os.Stdout)
}

func run(ctx context.Context, a *app.App, in io.Reader, out io.Writer) {
	s := &session{}
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() || ctx.Err() != nil {
			fmt.Fprintln(out)
			return
		}
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "/sair":
			return
		case "/limpar":
			s = &session{}
			fmt.Fprintln(out, "Conversa reiniciada.")
			continue
		case "/rascunho":
			printDraft(out, s.draft)
			continue
		}

		s.history = append(s.history, models.ChatTurn{Role: models.RoleUser, Content: line})
		result, err := a.Iza.HandleTurn(ctx, models.TurnRequest{Messages: s.history, Draft: s.draft})
		if err != nil {
			fmt.Fprintf(out, "Erro: %v\n", err)
			// drop the unanswered turn so it can be retried
			s.history = s.history[:len(s.history)-1]
			continue
		}

		s.history = append(s.history, models.ChatTurn{Role: models.RoleAssistant, Content: result.AssistantMessage})
		s.draft = draft.Apply(s.draft, result.DraftPatch)

		fmt.Fprintf(out, "\nIZA: %s\n", result.AssistantMessage)
		fmt.Fprintf(out, "[intenção: %s | faltam: %s | recomendados: %s | pode enviar: %v]\n\n",
			result.Intent, listOrNone(result.MissingRequiredFields),
			listOrNone(result.MissingRecommendedFields), result.CanSubmit)
	}
}

func printDraft(out io.Writer, d models.Draft) {
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		fmt.Fprintf(out, "Erro: %v\n", err)
		return
	}
	fmt.Fprintln(out, string(data))
}

func listOrNone(items []string) string {
	if len(items) == 0 {
		return "nada"
	}
	return strings.Join(items, ", ")
}
