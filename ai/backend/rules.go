package backend

import (
	"context"
	"strings"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/ext"
	"github.com/pkg/errors"

	"github.com/hrygo/intentgate/ai"
)

// ErrNoRuleMatched is returned when no rule fires. The ensemble records it as a
// failed vote, so an unmatched message is decided by the remaining backends.
var ErrNoRuleMatched = errors.New("no rule matched")

const defaultRuleConfidence = 0.8

// Rule maps a CEL condition to an intent.
//
// Expressions see text (raw message), lower (lower-cased message), hour (0-23)
// and weekday (0 = Sunday) in the caller's local time, plus the CEL string
// extensions.
type Rule struct {
	Name       string  `yaml:"name"`
	Intent     string  `yaml:"intent"`
	When       string  `yaml:"when"`
	Confidence float32 `yaml:"confidence"`
}

// DefaultRules are keyword rules for the common Chinese and English phrasings.
// Order matters: the first matching rule wins.
var DefaultRules = []Rule{
	{
		Name:   "batch",
		Intent: string(ai.IntentBatchSchedule),
		When:   `text.matches('批量|一系列|每天|每周') || lower.matches('\\b(every day|every week|daily|weekly)\\b')`,
	},
	{
		Name:   "update",
		Intent: string(ai.IntentScheduleUpdate),
		When:   `text.matches('修改|更新|取消|改到|推迟') || lower.matches('\\b(reschedule|cancel|postpone|move .* to)\\b')`,
	},
	{
		Name:   "query",
		Intent: string(ai.IntentScheduleQuery),
		When:   `text.matches('(今天|明天|后天|本周|下周).*(有什么|什么安排|有没有|哪些)') || lower.matches('what\'?s (on|planned)|\\bmy (schedule|calendar)\\b')`,
	},
	{
		Name:   "create",
		Intent: string(ai.IntentScheduleCreate),
		When:   `text.matches('(上午|下午|晚上|早上|中午)\\d{1,2}[点时]|\\d{1,2}月\\d{1,2}[日号]') || lower.matches('\\b(at \\d{1,2}(:\\d{2})? ?(am|pm)|tomorrow at)\\b')`,
	},
	{
		Name:   "search",
		Intent: string(ai.IntentMemoSearch),
		When:   `text.matches('搜索|查找') || lower.matches('^(find|search)\\b')`,
	},
	{
		Name:   "note",
		Intent: string(ai.IntentMemoCreate),
		When:   `text.matches('记录|记一下|保存') || lower.matches('^(note|remember)\\b')`,
	},
}

type compiledRule struct {
	Rule
	intent  ai.Intent
	program cel.Program
}

// Rules is a zero-cost backend that evaluates CEL rules in order.
type Rules struct {
	name  string
	rules []compiledRule
}

// NewRules compiles rules. Every expression must evaluate to bool and every
// intent must be allowed.
func NewRules(name string, rules []Rule) (*Rules, error) {
	if len(rules) == 0 {
		return nil, errors.Errorf("backend %s: no rules", name)
	}

	env, err := cel.NewEnv(
		cel.Variable("text", cel.StringType),
		cel.Variable("lower", cel.StringType),
		cel.Variable("hour", cel.IntType),
		cel.Variable("weekday", cel.IntType),
		ext.Strings(),
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create CEL environment")
	}

	r := &Rules{name: name}
	for i, rule := range rules {
		label := rule.Name
		if label == "" {
			label = rule.Intent
		}

		intent := ai.ParseIntent(rule.Intent)
		if intent == ai.IntentUnknown && !strings.EqualFold(strings.TrimSpace(rule.Intent), string(ai.IntentUnknown)) {
			return nil, errors.Errorf("rule %d (%s): intent %q is not allowed", i, label, rule.Intent)
		}

		checked, issues := env.Compile(rule.When)
		if issues != nil && issues.Err() != nil {
			return nil, errors.Wrapf(issues.Err(), "rule %d (%s): invalid expression", i, label)
		}
		if !checked.OutputType().IsExactType(cel.BoolType) {
			return nil, errors.Errorf("rule %d (%s): expression must be bool, got %s", i, label, checked.OutputType())
		}
		program, err := env.Program(checked)
		if err != nil {
			return nil, errors.Wrapf(err, "rule %d (%s): build program", i, label)
		}

		if rule.Confidence <= 0 || rule.Confidence > 1 {
			rule.Confidence = defaultRuleConfidence
		}
		r.rules = append(r.rules, compiledRule{Rule: rule, intent: intent, program: program})
	}
	return r, nil
}

func (r *Rules) Name() string { return r.name }

// Classify returns the intent of the first matching rule.
func (r *Rules) Classify(ctx context.Context, req *ai.ClassifyRequest) (*ai.Prediction, error) {
	activation := map[string]any{
		"text":    req.Text,
		"lower":   strings.ToLower(req.Text),
		"hour":    int64(req.Local.Hour()),
		"weekday": int64(req.Local.Weekday()),
	}

	for _, rule := range r.rules {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out, _, err := rule.program.Eval(activation)
		if err != nil {
			return nil, errors.Wrapf(err, "evaluate rule %s", rule.Name)
		}
		if matched, ok := out.Value().(bool); ok && matched {
			return &ai.Prediction{Intent: rule.intent, Confidence: rule.Confidence}, nil
		}
	}
	return nil, ErrNoRuleMatched
}
