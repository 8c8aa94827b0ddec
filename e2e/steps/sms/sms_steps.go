package sms

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/url"

	"github.com/cucumber/godog"
)

// TestContext interface defines the methods needed from the main test context
type TestContext interface {
	POST(path string, body any) error
	PostForm(path string, values url.Values) error
	GetLastResponseStatus() int
	GetLastResponseBody() []byte
	GetResponseField(field string) (any, error)
}

// RegisterSteps registers inbound SMS steps.
func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	steps := &smsSteps{tc: tc}
	ctx.Step(`^"([^"]*)" texts "([^"]*)"$`, steps.texts)
	ctx.Step(`^"([^"]*)" texts "([^"]*)" through the JSON webhook$`, steps.textsJSON)
	ctx.Step(`^the reply should be "([^"]*)"$`, steps.replyShouldBe)
	ctx.Step(`^the reply should be:$`, steps.replyShouldBeDoc)
}

type smsSteps struct {
	tc    TestContext
	reply string
}

type twiml struct {
	XMLName xml.Name `xml:"Response"`
	Message string   `xml:"Message"`
}

func (s *smsSteps) texts(ctx context.Context, from, body string) error {
	err := s.tc.PostForm("/sms/inbound", url.Values{"From": {from}, "Body": {body}, "MessageSid": {"SM-e2e"}})
	if err != nil {
		return err
	}
	if s.tc.GetLastResponseStatus() != 200 {
		return fmt.Errorf("webhook returned %d: %s", s.tc.GetLastResponseStatus(), s.tc.GetLastResponseBody())
	}
	var resp twiml
	if err := xml.Unmarshal(s.tc.GetLastResponseBody(), &resp); err != nil {
		return fmt.Errorf("decode TwiML: %w", err)
	}
	s.reply = resp.Message
	return nil
}

func (s *smsSteps) textsJSON(ctx context.Context, from, body string) error {
	if err := s.tc.POST("/sms/inbound", map[string]string{"from": from, "body": body}); err != nil {
		return err
	}
	reply, err := s.tc.GetResponseField("reply")
	if err != nil {
		return err
	}
	s.reply = fmt.Sprint(reply)
	return nil
}

func (s *smsSteps) replyShouldBe(ctx context.Context, expected string) error {
	if s.reply != expected {
		return fmt.Errorf("expected reply %q, got %q", expected, s.reply)
	}
	return nil
}

func (s *smsSteps) replyShouldBeDoc(ctx context.Context, doc *godog.DocString) error {
	return s.replyShouldBe(ctx, doc.Content)
}
