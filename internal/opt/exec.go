package opt

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os/exec"
	"strings"
	"time"
)

// ExecSolver runs an external optimizer. The problem JSON is passed as the
// final argument and the solution JSON is read from stdout.
type ExecSolver struct {
	Command string
	Args    []string
}

// NewExecSolver splits a command line on whitespace.
func NewExecSolver(cmdline string) *ExecSolver {
	f := strings.Fields(cmdline)
	if len(f) == 0 {
		return &ExecSolver{}
	}
	return &ExecSolver{Command: f[0], Args: f[1:]}
}

func (e *ExecSolver) Solve(ctx context.Context, p Problem) (Solution, error) {
	if err := ValidateProblem(p); err != nil {
		return Solution{}, err
	}
	if e.Command == "" {
		return Solution{}, &ProcessError{Op: "start", Err: errors.New("no solver command configured")}
	}
	if p.NumVehicles == 0 {
		p.NumVehicles = len(p.VehicleCapacities)
	}
	payload, err := json.Marshal(p)
	if err != nil {
		return Solution{}, &ProcessError{Op: "encode", Err: err}
	}
	args := append(append([]string(nil), e.Args...), string(payload))
	cmd := exec.CommandContext(ctx, e.Command, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	runErr := cmd.Run()
	log.Printf("[SOLVER] exec %s nodes=%d dur=%dms", e.Command, p.Nodes(), time.Since(start).Milliseconds())
	if ctxErr := ctx.Err(); ctxErr != nil {
		return Solution{}, &ProcessError{Op: "run", Err: ctxErr}
	}

	var sol Solution
	decodeErr := json.Unmarshal(stdout.Bytes(), &sol)
	if decodeErr == nil && sol.Error != "" {
		if isInfeasibleMessage(sol.Error) {
			return Solution{}, fmt.Errorf("%w: %s", ErrInfeasible, sol.Error)
		}
		return Solution{}, &ProcessError{Op: "run", Err: errors.New(sol.Error)}
	}
	if runErr != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = strings.TrimSpace(stdout.String())
		}
		return Solution{}, &ProcessError{Op: "run", Err: fmt.Errorf("%w: %s", runErr, msg)}
	}
	if decodeErr != nil {
		return Solution{}, &ProcessError{Op: "decode", Err: decodeErr}
	}
	if err := ValidateSolution(p, sol); err != nil {
		return Solution{}, err
	}
	return sol, nil
}

func isInfeasibleMessage(msg string) bool {
	m := strings.ToLower(msg)
	return strings.Contains(m, "no feasible") || strings.Contains(m, "no solution")
}
