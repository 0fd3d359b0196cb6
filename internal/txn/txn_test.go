package txn

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRunAllStepsSucceed(t *testing.T) {
	var trace []string
	step := func(name string) Step {
		return Step{
			Name:     name,
			Execute:  func() error { trace = append(trace, name); return nil },
			Rollback: func() error { trace = append(trace, "undo-"+name); return nil },
		}
	}

	res := Run(nil, []Step{step("a"), step("b"), step("c")})
	assert.True(t, res.Success)
	assert.Equal(t, []string{"a", "b", "c"}, trace)
}

func TestRunRollsBackInReverseOrder(t *testing.T) {
	var trace []string
	ok := func(name string) Step {
		return Step{
			Name:     name,
			Execute:  func() error { trace = append(trace, name); return nil },
			Rollback: func() error { trace = append(trace, "undo-"+name); return nil },
		}
	}
	boom := Step{
		Name:    "boom",
		Execute: func() error { return errors.New("kaput") },
	}

	res := Run(nil, []Step{ok("a"), ok("b"), boom})
	assert.False(t, res.Success)
	assert.Equal(t, "boom", res.FailedStep)
	assert.Error(t, res.Err)
	assert.Equal(t, []string{"a", "b", "undo-b", "undo-a"}, trace)
}

func TestRunSwallowsRollbackFailures(t *testing.T) {
	var undoneA bool
	steps := []Step{
		{
			Name:     "a",
			Execute:  func() error { return nil },
			Rollback: func() error { undoneA = true; return nil },
		},
		{
			Name:     "b",
			Execute:  func() error { return nil },
			Rollback: func() error { return errors.New("rollback broke") },
		},
		{
			Name:    "c",
			Execute: func() error { return errors.New("fail") },
		},
	}

	res := Run(nil, steps)
	assert.False(t, res.Success)
	assert.True(t, undoneA, "rollback continues past a failing rollback")
}

func TestRunNilRollbackIsSkipped(t *testing.T) {
	steps := []Step{
		{Name: "a", Execute: func() error { return nil }},
		{Name: "b", Execute: func() error { return errors.New("fail") }},
	}
	res := Run(nil, steps)
	assert.False(t, res.Success)
	assert.Equal(t, "b", res.FailedStep)
}
