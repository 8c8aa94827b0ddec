package proposal

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cucumber/godog"
)

// TestContext interface defines the methods needed from the main test context
type TestContext interface {
	POST(path string, body any) error
	GET(path string) error
	GetLastResponseStatus() int
	GetLastResponseBody() []byte
	GetResponseField(field string) (any, error)
	AddMember(number, groupID string, verified bool) error
	MessagesTo(number string) []string
	SetAnonymous(anonymous bool)
	RememberProposal(name, id string)
	ProposalID(name string) (string, error)
}

// RegisterSteps registers the admin proposal lifecycle steps.
func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	steps := &proposalSteps{tc: tc}
	ctx.Step(`^a verified member "([^"]*)" in group "([^"]*)"$`, steps.verifiedMember)
	ctx.Step(`^an unverified member "([^"]*)" in group "([^"]*)"$`, steps.unverifiedMember)
	ctx.Step(`^I am not authenticated as an administrator$`, steps.notAdmin)
	ctx.Step(`^I create proposal "([^"]*)" titled "([^"]*)" for group "([^"]*)"$`, steps.createProposal)
	ctx.Step(`^I start voting on "([^"]*)"$`, steps.startVoting)
	ctx.Step(`^I start voting on "([^"]*)" for (\d+) milliseconds$`, steps.startVotingFor)
	ctx.Step(`^voting on "([^"]*)" is open$`, steps.votingIsOpen)
	ctx.Step(`^the voting window of "([^"]*)" has elapsed$`, steps.windowElapsed)
	ctx.Step(`^I close voting on "([^"]*)"$`, steps.closeVoting)
	ctx.Step(`^I request the tally of "([^"]*)"$`, steps.requestTally)
	ctx.Step(`^"([^"]*)" should receive a ballot for code "([^"]*)"$`, steps.shouldReceiveBallot)
	ctx.Step(`^"([^"]*)" should receive no messages$`, steps.shouldReceiveNothing)
}

type proposalSteps struct {
	tc       TestContext
	deadline map[string]time.Time
}

func (s *proposalSteps) verifiedMember(ctx context.Context, number, group string) error {
	return s.tc.AddMember(number, group, true)
}

func (s *proposalSteps) unverifiedMember(ctx context.Context, number, group string) error {
	return s.tc.AddMember(number, group, false)
}

func (s *proposalSteps) notAdmin(ctx context.Context) error {
	s.tc.SetAnonymous(true)
	return nil
}

func (s *proposalSteps) createProposal(ctx context.Context, name, title, group string) error {
	err := s.tc.POST("/admin/proposals", map[string]string{"group_id": group, "title": title, "body": title})
	if err != nil {
		return err
	}
	if s.tc.GetLastResponseStatus() != 201 {
		return nil
	}
	id, err := s.tc.GetResponseField("id")
	if err != nil {
		return err
	}
	s.tc.RememberProposal(name, fmt.Sprint(id))
	return nil
}

func (s *proposalSteps) path(name, action string) (string, error) {
	id, err := s.tc.ProposalID(name)
	if err != nil {
		return "", err
	}
	return "/admin/proposals/" + id + "/" + action, nil
}

func (s *proposalSteps) startVoting(ctx context.Context, name string) error {
	path, err := s.path(name, "start")
	if err != nil {
		return err
	}
	return s.tc.POST(path, nil)
}

func (s *proposalSteps) startVotingFor(ctx context.Context, name string, ms int) error {
	path, err := s.path(name, "start")
	if err != nil {
		return err
	}
	d := time.Duration(ms) * time.Millisecond
	if err := s.tc.POST(path, map[string]string{"duration": d.String()}); err != nil {
		return err
	}
	if s.deadline == nil {
		s.deadline = make(map[string]time.Time)
	}
	s.deadline[name] = time.Now().Add(d)
	return nil
}

func (s *proposalSteps) votingIsOpen(ctx context.Context, name string) error {
	if err := s.startVoting(ctx, name); err != nil {
		return err
	}
	outcome, err := s.tc.GetResponseField("outcome")
	if err != nil {
		return err
	}
	if outcome != "started" {
		return fmt.Errorf("expected voting to start, got %v: %s", outcome, s.tc.GetLastResponseBody())
	}
	return nil
}

func (s *proposalSteps) windowElapsed(ctx context.Context, name string) error {
	deadline, ok := s.deadline[name]
	if !ok {
		return fmt.Errorf("voting on %q was not started with a short window", name)
	}
	time.Sleep(time.Until(deadline) + 10*time.Millisecond)
	return nil
}

func (s *proposalSteps) closeVoting(ctx context.Context, name string) error {
	path, err := s.path(name, "close")
	if err != nil {
		return err
	}
	return s.tc.POST(path, nil)
}

func (s *proposalSteps) requestTally(ctx context.Context, name string) error {
	path, err := s.path(name, "tally")
	if err != nil {
		return err
	}
	return s.tc.GET(path)
}

func (s *proposalSteps) shouldReceiveBallot(ctx context.Context, number, code string) error {
	want := fmt.Sprintf("Reply YES%s or NO%s", code, code)
	for _, m := range s.tc.MessagesTo(number) {
		if strings.Contains(m, want) {
			return nil
		}
	}
	return fmt.Errorf("%s received no ballot containing %q: %v", number, want, s.tc.MessagesTo(number))
}

func (s *proposalSteps) shouldReceiveNothing(ctx context.Context, number string) error {
	if msgs := s.tc.MessagesTo(number); len(msgs) > 0 {
		return fmt.Errorf("expected no messages to %s, got %v", number, msgs)
	}
	return nil
}
