package validate

import (
	"fmt"

	"github.com/google/cel-go/cel"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// Constraint is an extra rule checked against each event after the global
// invariants. Check sees the machine state before evt is applied and returns
// a non-empty detail when evt breaks the rule.
type Constraint interface {
	Invariant() domain.Invariant
	Check(m *Machine, evt domain.Interaction) string
}

type constraintFunc struct {
	inv   domain.Invariant
	check func(m *Machine, evt domain.Interaction) string
}

func (c constraintFunc) Invariant() domain.Invariant { return c.inv }

func (c constraintFunc) Check(m *Machine, evt domain.Interaction) string { return c.check(m, evt) }

// GroupMembership requires post_in_group to follow a join of that group
// that has not been undone by leave_group.
func GroupMembership() Constraint {
	return constraintFunc{domain.InvGroupMembership, func(m *Machine, evt domain.Interaction) string {
		if evt.Type == domain.PostInGroup && !m.Joined(evt.GroupID()) {
			return fmt.Sprintf("post in group %s without membership", evt.GroupID())
		}
		if evt.Type == domain.LeaveGroup && !m.Joined(evt.GroupID()) {
			return fmt.Sprintf("leave group %s without membership", evt.GroupID())
		}
		return ""
	}}
}

// JobViewedBeforeApply requires apply_to_job to follow a view of that job.
func JobViewedBeforeApply() Constraint {
	return constraintFunc{domain.InvJobViewedBeforeApply, func(m *Machine, evt domain.Interaction) string {
		if evt.Type == domain.ApplyToJob && !m.JobSeen(evt.JobID()) {
			return fmt.Sprintf("apply to job %s without viewing it", evt.JobID())
		}
		return ""
	}}
}

// RecommendationToConnection requires the target of give_recommendation to
// be a confirmed connection.
func RecommendationToConnection() Constraint {
	return constraintFunc{domain.InvRecommendationConnected, func(m *Machine, evt domain.Interaction) string {
		if evt.Type == domain.GiveRecommendation && !m.Connected(evt.TargetUserID) {
			return fmt.Sprintf("recommendation for %s who is not a connection", evt.TargetUserID)
		}
		return ""
	}}
}

// NoAddressBookDownload forbids download_address_book. Benign accounts carry it.
func NoAddressBookDownload() Constraint {
	return constraintFunc{domain.InvNoAddressBookDownload, func(_ *Machine, evt domain.Interaction) string {
		if evt.Type == domain.DownloadAddressBook {
			return "address book download"
		}
		return ""
	}}
}

// ViewBeforeReachOut requires message and connection-request targets to have
// been viewed first. Benign accounts carry it.
func ViewBeforeReachOut() Constraint {
	return constraintFunc{domain.InvViewBeforeReachOut, func(m *Machine, evt domain.Interaction) string {
		switch evt.Type {
		case domain.MessageUser, domain.SendConnectionRequest:
			if !m.Viewed(evt.TargetUserID) && !m.Connected(evt.TargetUserID) {
				return fmt.Sprintf("%s to %s without a prior view", evt.Type, evt.TargetUserID)
			}
		}
		return ""
	}}
}

// Global returns the constraints every generated account is checked with.
// requireJobView adds JobViewedBeforeApply.
func Global(requireJobView bool) []Constraint {
	cs := []Constraint{GroupMembership(), RecommendationToConnection()}
	if requireJobView {
		cs = append(cs, JobViewedBeforeApply())
	}
	return cs
}

// Benign returns the extra constraints of benign archetypes.
func Benign() []Constraint {
	return []Constraint{NoAddressBookDownload(), ViewBeforeReachOut()}
}

var exprEnv *cel.Env

func init() {
	env, err := cel.NewEnv(
		cel.Variable("event", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("session_open", cel.BoolType),
		cel.Variable("logins", cel.IntType),
		cel.Variable("failures", cel.IntType),
		cel.Variable("viewed", cel.MapType(cel.StringType, cel.BoolType)),
		cel.Variable("groups", cel.MapType(cel.StringType, cel.BoolType)),
		cel.Variable("connections", cel.MapType(cel.StringType, cel.BoolType)),
	)
	if err != nil {
		panic(fmt.Sprintf("failed to create CEL environment: %v", err))
	}
	exprEnv = env
}

type exprConstraint struct {
	name    string
	program cel.Program
}

// Expr compiles a CEL boolean expression into a constraint named name.
// The expression sees the event about to be applied and the state before it:
//
//	event.type != "message_user" || event.target in viewed
//
// A false result is a violation; an evaluation error is reported as one.
func Expr(name, expression string) (Constraint, error) {
	ast, issues := exprEnv.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("%w: constraint %s: %v", domain.ErrConfiguration, name, issues.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("%w: constraint %s must return bool, got %s", domain.ErrConfiguration, name, ast.OutputType())
	}
	program, err := exprEnv.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for constraint %s: %w", name, err)
	}
	return &exprConstraint{name: name, program: program}, nil
}

func (c *exprConstraint) Invariant() domain.Invariant { return domain.Invariant(c.name) }

func (c *exprConstraint) Check(m *Machine, evt domain.Interaction) string {
	activation := map[string]any{
		"event": map[string]any{
			"type":       string(evt.Type),
			"target":     evt.TargetUserID,
			"ip":         evt.IPAddress,
			"ip_type":    string(evt.IPType),
			"country":    evt.IPCountry,
			"user_agent": evt.UserAgent,
			"group":      evt.GroupID(),
			"job":        evt.JobID(),
			"hour":       int64(evt.Timestamp.Hour()),
		},
		"session_open": m.SessionOpen(evt.Timestamp),
		"logins":       int64(m.logins),
		"failures":     int64(m.failures),
		"viewed":       m.viewed,
		"groups":       m.groups,
		"connections":  m.connections,
	}
	out, _, err := c.program.Eval(activation)
	if err != nil {
		return fmt.Sprintf("evaluation error: %v", err)
	}
	if ok, isBool := out.Value().(bool); isBool && !ok {
		return fmt.Sprintf("expression %s is false", c.name)
	}
	return ""
}

// Exprs compiles operator-declared constraints. Constraints limited to
// patterns are returned separately, keyed by pattern name.
func Exprs(decls []domain.ExpressionConstraint) (all []Constraint, byPattern map[string][]Constraint, err error) {
	byPattern = make(map[string][]Constraint)
	for _, d := range decls {
		c, err := Expr(d.Name, d.Expression)
		if err != nil {
			return nil, nil, err
		}
		if len(d.Patterns) == 0 {
			all = append(all, c)
			continue
		}
		for _, p := range d.Patterns {
			byPattern[p] = append(byPattern[p], c)
		}
	}
	return all, byPattern, nil
}
