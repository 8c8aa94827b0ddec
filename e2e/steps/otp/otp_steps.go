package otp

import (
	"context"
	"fmt"
	"net/url"
	"regexp"

	"github.com/cucumber/godog"
)

// TestContext interface defines the methods needed from the main test context
type TestContext interface {
	POST(path string, body any) error
	GET(path string) error
	GetResponseField(field string) (any, error)
	AddMember(number, groupID string, verified bool) error
	IsVerifiedMember(number, groupID string) (bool, error)
	MessagesTo(number string) []string
}

var codePattern = regexp.MustCompile(`verification code is: (\d+)\.`)

// RegisterSteps registers OTP request and verification steps.
func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	steps := &otpSteps{tc: tc}
	ctx.Step(`^a member "([^"]*)" in group "([^"]*)" who has not verified their phone$`, steps.unverifiedMember)
	ctx.Step(`^I request a "([^"]*)" code for "([^"]*)"$`, steps.requestCode)
	ctx.Step(`^"([^"]*)" should receive a verification code$`, steps.shouldReceiveCode)
	ctx.Step(`^I submit the received code for "([^"]*)" with purpose "([^"]*)"$`, steps.submitReceivedCode)
	ctx.Step(`^I submit a wrong code for "([^"]*)" with purpose "([^"]*)" (\d+) times$`, steps.submitWrongCode)
	ctx.Step(`^I check the "([^"]*)" code status for "([^"]*)"$`, steps.checkStatus)
	ctx.Step(`^"([^"]*)" should be a verified member of group "([^"]*)"$`, steps.shouldBeVerified)
}

type otpSteps struct {
	tc TestContext
}

func (s *otpSteps) unverifiedMember(ctx context.Context, number, group string) error {
	return s.tc.AddMember(number, group, false)
}

func (s *otpSteps) requestCode(ctx context.Context, purpose, number string) error {
	return s.tc.POST("/otp/request", map[string]string{"phone": number, "purpose": purpose})
}

func (s *otpSteps) receivedCode(number string) (string, error) {
	messages := s.tc.MessagesTo(number)
	if len(messages) == 0 {
		return "", fmt.Errorf("no message sent to %s", number)
	}
	m := codePattern.FindStringSubmatch(messages[len(messages)-1])
	if m == nil {
		return "", fmt.Errorf("last message to %s carries no code: %q", number, messages[len(messages)-1])
	}
	return m[1], nil
}

func (s *otpSteps) shouldReceiveCode(ctx context.Context, number string) error {
	_, err := s.receivedCode(number)
	return err
}

func (s *otpSteps) submitReceivedCode(ctx context.Context, number, purpose string) error {
	code, err := s.receivedCode(number)
	if err != nil {
		return err
	}
	return s.tc.POST("/otp/verify", map[string]string{"phone": number, "purpose": purpose, "code": code})
}

func (s *otpSteps) submitWrongCode(ctx context.Context, number, purpose string, times int) error {
	code, err := s.receivedCode(number)
	if err != nil {
		return err
	}
	wrong := []byte(code)
	wrong[len(wrong)-1] = '0' + (wrong[len(wrong)-1]-'0'+1)%10
	for range times {
		if err := s.tc.POST("/otp/verify", map[string]string{"phone": number, "purpose": purpose, "code": string(wrong)}); err != nil {
			return err
		}
	}
	return nil
}

func (s *otpSteps) checkStatus(ctx context.Context, purpose, number string) error {
	q := url.Values{"phone": {number}, "purpose": {purpose}}
	return s.tc.GET("/otp/status?" + q.Encode())
}

func (s *otpSteps) shouldBeVerified(ctx context.Context, number, group string) error {
	ok, err := s.tc.IsVerifiedMember(number, group)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%s is not a verified member of %s", number, group)
	}
	return nil
}
