// Waveline CLI — инструмент командной строки для управления
// заданиями через HTTP API.
//
// Использование:
//
//	waveline [--api-url URL] [--json] job <subcommand> [flags]
//
// Команды:
//
//	job submit  Отправить конвейер из JSON-файла
//	job get     Показать документ задания
//	job retry   Повторить упавшее задание
//	job watch   Опрашивать задание до терминального статуса
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/savrin/waveline/internal/cli"
)

// version задаётся через ldflags при сборке.
var version = "dev"

func main() {
	var apiURL string
	var jsonOutput bool

	rootCmd := &cobra.Command{
		Use:           "waveline",
		Short:         "Waveline CLI — audio pipeline orchestration tool",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&apiURL, "api-url", "http://localhost:8080", "API server URL")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")

	clientFn := func() *cli.Client { return cli.NewClient(apiURL) }
	outputFn := func() *cli.Output { return cli.NewOutput(jsonOutput) }

	rootCmd.AddCommand(cli.NewJobCmd(clientFn, outputFn))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error: "+err.Error())
		os.Exit(1)
	}
}
