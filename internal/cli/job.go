package cli

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/shaiso/mdds/internal/domain"
)

// ClientFunc открывает Client для команды. Client закрывается после команды.
type ClientFunc func(cmd *cobra.Command) (*Client, error)

// NewJobCmds создаёт команды submit, cancel и result.
func NewJobCmds(clientFn ClientFunc, outputFn func() *Output) []*cobra.Command {
	return []*cobra.Command{
		newSubmitCmd(clientFn, outputFn),
		newCancelCmd(clientFn, outputFn),
		newResultCmd(clientFn, outputFn),
	}
}

func newSubmitCmd(clientFn ClientFunc, outputFn func() *Output) *cobra.Command {
	var matrixPath, rhsPath, method string

	cmd := &cobra.Command{
		Use:     "submit",
		Short:   "Submit a linear system A·x = b",
		Example: "  mdds submit --matrix A.csv --rhs b.csv --method " + string(domain.MethodNumpyExact),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := domain.ParseSolvingMethod(method)
			if err != nil {
				return err
			}
			matrix, err := ReadMatrixFile(matrixPath)
			if err != nil {
				return err
			}
			rhs, err := ReadVectorFile(rhsPath)
			if err != nil {
				return err
			}

			client, err := clientFn(cmd)
			if err != nil {
				return err
			}
			defer client.Close()

			job, err := client.Submit(cmd.Context(), matrix, rhs, m)
			if err != nil {
				return err
			}

			out := outputFn()
			out.Success(fmt.Sprintf("Job submitted: %s", job.ID))
			out.Print(
				[]string{"ID", "METHOD", "ROWS", "CREATED"},
				[][]string{{job.ID, string(job.Method), strconv.Itoa(len(job.Matrix)), job.CreatedAt.Format(time.RFC3339)}},
				map[string]any{"id": job.ID, "solvingMethod": job.Method, "createdAt": job.CreatedAt},
			)
			return nil
		},
	}

	cmd.Flags().StringVar(&matrixPath, "matrix", "", "CSV file with the matrix A, one row per line")
	cmd.Flags().StringVar(&rhsPath, "rhs", "", "CSV file with the right-hand side b")
	cmd.Flags().StringVar(&method, "method", string(domain.MethodNumpyExact), "Solving method")
	_ = cmd.MarkFlagRequired("matrix")
	_ = cmd.MarkFlagRequired("rhs")

	return cmd
}

func newCancelCmd(clientFn ClientFunc, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel JOB_ID",
		Short: "Request cancellation of a running job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := clientFn(cmd)
			if err != nil {
				return err
			}
			defer client.Close()

			if err := client.Cancel(cmd.Context(), args[0]); err != nil {
				return err
			}

			outputFn().Success(fmt.Sprintf("Cancel requested: %s", args[0]))
			return nil
		},
	}
}

func newResultCmd(clientFn ClientFunc, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "result JOB_ID",
		Short: "Show job status and solution",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := clientFn(cmd)
			if err != nil {
				return err
			}
			defer client.Close()

			rec, err := client.Result(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			finished := ""
			if rec.FinishedAt != nil {
				finished = rec.FinishedAt.Format(time.RFC3339)
			}
			outputFn().Print(
				[]string{"ID", "STATUS", "PROGRESS", "FINISHED", "SOLUTION", "ERROR"},
				[][]string{{rec.JobID, string(rec.Status), strconv.Itoa(rec.Progress), finished, formatVector(rec.Solution), rec.ErrorMessage}},
				rec,
			)
			return nil
		},
	}
}

// NewMethodsCmd создаёт команду methods.
func NewMethodsCmd(outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "methods",
		Short: "List solving methods",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			methods := domain.SolvingMethods()
			rows := make([][]string, len(methods))
			for i, m := range methods {
				rows[i] = []string{string(m)}
			}
			outputFn().Print([]string{"METHOD"}, rows, methods)
			return nil
		},
	}
}

func formatVector(v []float64) string {
	if len(v) == 0 {
		return ""
	}
	parts := make([]string, len(v))
	for i, x := range v {
		parts[i] = strconv.FormatFloat(x, 'g', 6, 64)
	}
	return "[" + strings.Join(parts, " ") + "]"
}
