package executor

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/opencode-ai/threadbridge/internal/posttracker"
	"github.com/opencode-ai/threadbridge/pkg/types"
)

// OptionEmoji are the reactions offered for question options, in order.
var OptionEmoji = []string{"one", "two", "three", "four", "five", "six", "seven", "eight", "nine"}

var (
	approveEmoji = map[string]bool{"+1": true, "thumbsup": true, "white_check_mark": true}
	denyEmoji    = map[string]bool{"-1": true, "thumbsdown": true, "x": true}
)

// ConfirmEmoji completes a multi-select question.
const ConfirmEmoji = "white_check_mark"

// OptionIndex maps a keycap reaction to an option index, or -1.
func OptionIndex(emoji string) int {
	for i, e := range OptionEmoji {
		if e == emoji {
			return i
		}
	}
	return -1
}

// InteractiveExecutor runs the question and approval interactions of a
// session. At most one question set and one approval are pending at a
// time; a new one replaces the old, whose posts then no longer respond.
type InteractiveExecutor struct {
	deps       Deps
	questions  *types.PendingQuestionSet
	approval   *types.PendingApproval
	onAnswered func(QuestionsComplete)
	onResolved func(ApprovalComplete)
}

// NewInteractiveExecutor creates an InteractiveExecutor. Either callback may be nil.
func NewInteractiveExecutor(deps Deps, onAnswered func(QuestionsComplete), onResolved func(ApprovalComplete)) *InteractiveExecutor {
	deps.defaults()
	return &InteractiveExecutor{deps: deps, onAnswered: onAnswered, onResolved: onResolved}
}

// StartQuestions creates a pending question set and posts its first question.
func (e *InteractiveExecutor) StartQuestions(ctx context.Context, q types.Question) error {
	set := &types.PendingQuestionSet{ToolUseID: q.ToolUseID}
	for _, item := range q.Questions {
		set.Questions = append(set.Questions, types.PendingQuestion{QuestionItem: item})
	}
	if len(set.Questions) == 0 {
		e.complete(set, false)
		return nil
	}
	e.questions = set
	return e.postCurrent(ctx)
}

// HandleQuestionAnswer records option index for the question shown in
// postID. It returns false, changing nothing, when postID is not the
// current question or index is out of range.
func (e *InteractiveExecutor) HandleQuestionAnswer(ctx context.Context, postID string, index int) (bool, error) {
	set := e.questions
	if set == nil || postID == "" || postID != set.CurrentPostID {
		return false, nil
	}
	cur := &set.Questions[set.CurrentIndex]
	if index < 0 || index >= len(cur.Options) || index >= len(OptionEmoji) {
		return false, nil
	}

	return true, e.answerCurrent(ctx, cur.Options[index].Label)
}

// answerCurrent records answer for the current question and moves on to the
// next one, completing the set after the last.
func (e *InteractiveExecutor) answerCurrent(ctx context.Context, answer string) error {
	set := e.questions
	postID := set.CurrentPostID
	cur := &set.Questions[set.CurrentIndex]
	cur.Answer = &answer
	cur.Selected = nil
	var errs []error
	if err := e.deps.updatePost(ctx, postID, renderAnswered(cur.QuestionItem, answer)); err != nil {
		errs = append(errs, err)
	}

	set.CurrentIndex++
	if set.CurrentIndex < len(set.Questions) {
		set.CurrentPostID = ""
		if err := e.postCurrent(ctx); err != nil {
			errs = append(errs, err)
		}
		return errors.Join(errs...)
	}

	e.questions = nil
	e.complete(set, false)
	return errors.Join(errs...)
}

// toggleOption changes the selection of a multi-select question.
// Confirming with nothing selected is not handled.
func (e *InteractiveExecutor) toggleOption(ctx context.Context, emoji string, added bool) (bool, error) {
	cur := &e.questions.Questions[e.questions.CurrentIndex]
	if emoji == ConfirmEmoji {
		if !added || len(cur.Selected) == 0 {
			return false, nil
		}
		sel := append([]int(nil), cur.Selected...)
		sort.Ints(sel)
		labels := make([]string, len(sel))
		for i, idx := range sel {
			labels[i] = cur.Options[idx].Label
		}
		return true, e.answerCurrent(ctx, strings.Join(labels, ", "))
	}

	idx := OptionIndex(emoji)
	if idx < 0 || idx >= len(cur.Options) {
		return false, nil
	}
	pos := slices.Index(cur.Selected, idx)
	switch {
	case added && pos < 0:
		cur.Selected = append(cur.Selected, idx)
	case !added && pos >= 0:
		cur.Selected = slices.Delete(cur.Selected, pos, pos+1)
	default:
		return false, nil
	}
	return true, nil
}

// StartApproval creates the pending approval and posts it. When the post
// cannot be created the approval resolves as rejected.
func (e *InteractiveExecutor) StartApproval(ctx context.Context, a types.Approval) error {
	id, err := e.createWithRetry(ctx, renderApproval(a), []string{"+1", "-1"})
	if err != nil {
		e.notify(ctx, "❌ Could not post the approval request; it was treated as rejected.")
		if e.onResolved != nil {
			e.onResolved(ApprovalComplete{ToolUseID: a.ToolUseID, Kind: a.Type, Approved: false})
		}
		return err
	}
	e.approval = &types.PendingApproval{ToolUseID: a.ToolUseID, Kind: a.Type, PostID: id}
	e.deps.Tracker.Register(id, posttracker.Info{
		Type:        posttracker.TypeApproval,
		Interaction: posttracker.InteractionApproval,
		ToolUseID:   a.ToolUseID,
	})
	return nil
}

// HandleApprovalResponse resolves the approval shown in postID.
func (e *InteractiveExecutor) HandleApprovalResponse(ctx context.Context, postID string, approved bool) (bool, error) {
	a := e.approval
	if a == nil || postID == "" || postID != a.PostID {
		return false, nil
	}
	e.approval = nil

	verdict := "❌ **Rejected**"
	if approved {
		verdict = "✅ **Approved**"
	}
	err := e.deps.updatePost(ctx, postID, approvalTitle(a.Kind)+"\n\n"+verdict)
	if e.onResolved != nil {
		e.onResolved(ApprovalComplete{ToolUseID: a.ToolUseID, Kind: a.Kind, Approved: approved})
	}
	return true, err
}

// HandleReaction routes a reaction change to the pending question or
// approval shown in postID. On a multi-select question option reactions
// toggle the selection and ConfirmEmoji answers it; everywhere else only
// added reactions count. Unknown emoji are not handled.
func (e *InteractiveExecutor) HandleReaction(ctx context.Context, postID, emoji string, added bool) (bool, error) {
	if e.questions != nil && postID == e.questions.CurrentPostID {
		if e.questions.Questions[e.questions.CurrentIndex].MultiSelect {
			return e.toggleOption(ctx, emoji, added)
		}
		if !added {
			return false, nil
		}
		idx := OptionIndex(emoji)
		if idx < 0 {
			return false, nil
		}
		return e.HandleQuestionAnswer(ctx, postID, idx)
	}
	if added && e.approval != nil && postID == e.approval.PostID {
		switch {
		case approveEmoji[emoji]:
			return e.HandleApprovalResponse(ctx, postID, true)
		case denyEmoji[emoji]:
			return e.HandleApprovalResponse(ctx, postID, false)
		}
	}
	return false, nil
}

// Pending returns copies of the pending question set and approval.
func (e *InteractiveExecutor) Pending() (*types.PendingQuestionSet, *types.PendingApproval) {
	return copyQuestions(e.questions), copyApproval(e.approval)
}

// Restore reinstates pending state saved with Pending, including answers
// already recorded, and re-registers the posts that accept reactions. A
// question set saved without a current post gets its question posted again.
func (e *InteractiveExecutor) Restore(ctx context.Context, q *types.PendingQuestionSet, a *types.PendingApproval) error {
	e.questions = copyQuestions(q)
	e.approval = copyApproval(a)
	var err error
	switch {
	case e.questions == nil:
	case e.questions.CurrentIndex >= len(e.questions.Questions):
		set := e.questions
		e.questions = nil
		e.complete(set, false)
	case e.questions.CurrentPostID == "":
		err = e.postCurrent(ctx)
	default:
		e.deps.Tracker.Register(e.questions.CurrentPostID, posttracker.Info{
			Type:        posttracker.TypeQuestion,
			Interaction: posttracker.InteractionOptions,
			ToolUseID:   e.questions.ToolUseID,
		})
	}
	if e.approval != nil {
		e.deps.Tracker.Register(e.approval.PostID, posttracker.Info{
			Type:        posttracker.TypeApproval,
			Interaction: posttracker.InteractionApproval,
			ToolUseID:   e.approval.ToolUseID,
		})
	}
	return err
}

// postCurrent posts the current question. If that fails the set is
// abandoned: the agent is told which answers it got and no post waits for
// a reaction that could never arrive.
func (e *InteractiveExecutor) postCurrent(ctx context.Context) error {
	set := e.questions
	cur := set.Questions[set.CurrentIndex]
	n := len(cur.Options)
	if n > len(OptionEmoji) {
		n = len(OptionEmoji)
	}

	reactions := append([]string(nil), OptionEmoji[:n]...)
	if cur.MultiSelect {
		reactions = append(reactions, ConfirmEmoji)
	}
	text := renderQuestion(set.CurrentIndex, len(set.Questions), cur.QuestionItem)
	id, err := e.createWithRetry(ctx, text, reactions)
	if err != nil {
		e.questions = nil
		e.notify(ctx, "❌ Could not post the agent's question; it will continue without an answer.")
		e.complete(set, true)
		return err
	}
	set.CurrentPostID = id
	e.deps.Tracker.Register(id, posttracker.Info{
		Type:        posttracker.TypeQuestion,
		Interaction: posttracker.InteractionOptions,
		ToolUseID:   set.ToolUseID,
	})
	return nil
}

// createWithRetry creates an interactive post, trying once more on failure.
func (e *InteractiveExecutor) createWithRetry(ctx context.Context, text string, reactions []string) (string, error) {
	id, err := e.deps.createInteractive(ctx, text, reactions)
	if err == nil {
		return id, nil
	}
	e.deps.Logger.Debug().Err(err).Msg("interactive post failed, retrying")
	return e.deps.createInteractive(ctx, text, reactions)
}

func (e *InteractiveExecutor) notify(ctx context.Context, text string) {
	if _, err := e.deps.createPost(ctx, text); err != nil {
		e.deps.Logger.Warn().Err(err).Msg("interaction failure notice")
	}
}

func (e *InteractiveExecutor) complete(set *types.PendingQuestionSet, abandoned bool) {
	done := QuestionsComplete{
		ToolUseID: set.ToolUseID,
		Answers:   make([]Answer, 0, len(set.Questions)),
		Abandoned: abandoned,
	}
	for _, q := range set.Questions {
		a := Answer{Header: q.Header}
		if q.Answer != nil {
			a.Answer = *q.Answer
		}
		done.Answers = append(done.Answers, a)
	}
	if e.onAnswered != nil {
		e.onAnswered(done)
	}
}

func renderQuestion(idx, total int, q types.QuestionItem) string {
	var b strings.Builder
	b.WriteString("❓ ")
	if total > 1 {
		fmt.Fprintf(&b, "(%d/%d) ", idx+1, total)
	}
	if q.Header != "" {
		fmt.Fprintf(&b, "**%s**: ", q.Header)
	}
	b.WriteString(q.Prompt)
	for i, opt := range q.Options {
		if i == len(OptionEmoji) {
			break
		}
		fmt.Fprintf(&b, "\n:%s: %s", OptionEmoji[i], opt.Label)
		if opt.Description != "" {
			fmt.Fprintf(&b, " - %s", opt.Description)
		}
	}
	if q.MultiSelect {
		b.WriteString("\n\nPick every option that applies, then react :" + ConfirmEmoji + ": to confirm.")
	}
	return b.String()
}

func renderAnswered(q types.QuestionItem, answer string) string {
	prefix := ""
	if q.Header != "" {
		prefix = "**" + q.Header + "**: "
	}
	return fmt.Sprintf("✅ %s%s\n→ %s", prefix, q.Prompt, answer)
}

func approvalTitle(kind types.ApprovalKind) string {
	if kind == types.ApprovalPlan {
		return "📋 **Plan ready for review**"
	}
	return "🔐 **Approval needed**"
}

func renderApproval(a types.Approval) string {
	var b strings.Builder
	b.WriteString(approvalTitle(a.Type))
	if a.Detail != "" {
		b.WriteString("\n\n")
		b.WriteString(a.Detail)
	}
	b.WriteString("\n\nReact :+1: to approve or :-1: to reject.")
	return b.String()
}

func copyQuestions(q *types.PendingQuestionSet) *types.PendingQuestionSet {
	if q == nil {
		return nil
	}
	out := *q
	out.Questions = make([]types.PendingQuestion, len(q.Questions))
	for i, pq := range q.Questions {
		out.Questions[i] = pq
		out.Questions[i].Options = append([]types.QuestionOption(nil), pq.Options...)
		out.Questions[i].Selected = append([]int(nil), pq.Selected...)
		if pq.Answer != nil {
			a := *pq.Answer
			out.Questions[i].Answer = &a
		}
	}
	return &out
}

func copyApproval(a *types.PendingApproval) *types.PendingApproval {
	if a == nil {
		return nil
	}
	out := *a
	return &out
}
