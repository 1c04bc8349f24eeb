package cli

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"
)

// NewJobCmd создаёт группу команд для управления заданиями.
func NewJobCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "job",
		Short: "Manage jobs",
	}

	cmd.AddCommand(
		newJobSubmitCmd(clientFn, outputFn),
		newJobGetCmd(clientFn, outputFn),
		newJobRetryCmd(clientFn, outputFn),
		newJobWatchCmd(clientFn, outputFn),
	)

	return cmd
}

func newJobSubmitCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a pipeline from a JSON file",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			pipeline, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("read pipeline file: %w", err)
			}

			resp, err := client.SubmitJob(pipeline)
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Job %s submitted (%s)", resp.JobID, resp.Status))
			out.Print([]string{"JOB_ID", "STATUS"},
				[][]string{{resp.JobID, resp.Status}}, resp)
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "Pipeline JSON file (required)")
	cmd.MarkFlagRequired("file")

	return cmd
}

func newJobGetCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "get <job-id>",
		Short: "Show a job document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			job, err := client.GetJob(args[0])
			if err != nil {
				return err
			}

			printJob(out, job)
			return nil
		},
	}
}

func newJobRetryCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <job-id>",
		Short: "Retry a failed job from its earliest failed step",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			resp, err := client.RetryJob(args[0])
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Retrying from step %s", resp.ResumeStep))
			out.Print([]string{"STATUS", "RESUME_STEP"},
				[][]string{{resp.Status, resp.ResumeStep}}, resp)
			return nil
		},
	}
}

func newJobWatchCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "watch <job-id>",
		Short: "Poll a job until it reaches a terminal status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			for {
				job, err := client.GetJob(args[0])
				if err != nil {
					return err
				}

				printJob(out, job)

				if job.Status == "complete" || job.Status == "failed" {
					return nil
				}
				time.Sleep(interval)
			}
		},
	}

	cmd.Flags().DurationVar(&interval, "interval", 2*time.Second, "Polling interval")

	return cmd
}

// printJob выводит документ задания: сводка плюс таблица шагов.
func printJob(out *Output, job *Job) {
	headers := []string{"STEP", "SERVICE", "STATUS", "ERROR"}
	rows := make([][]string, 0, len(job.Steps))

	for _, step := range job.Steps {
		errMsg := ""
		if step.Error != nil {
			errMsg = step.Error.Code
		}
		rows = append(rows, []string{step.Name, step.Service, step.Status, errMsg})

		for _, inst := range step.Instances {
			instErr := ""
			if inst.Error != nil {
				instErr = inst.Error.Code
			}
			rows = append(rows, []string{
				fmt.Sprintf("  [%s]", strconv.Itoa(inst.Index)),
				step.Service,
				inst.Status,
				instErr,
			})
		}
	}

	out.Success(fmt.Sprintf("Job %s: %s", job.JobID, job.Status))
	out.Print(headers, rows, job)
}
