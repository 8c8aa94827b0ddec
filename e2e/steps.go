package e2e

import (
	"github.com/cucumber/godog"

	"commonvote/e2e/steps/common"
	"commonvote/e2e/steps/otp"
	"commonvote/e2e/steps/proposal"
	"commonvote/e2e/steps/sms"
)

// RegisterSteps registers all step definitions from modular packages
func RegisterSteps(ctx *godog.ScenarioContext, tc *TestContext) {
	common.RegisterSteps(ctx, tc)
	otp.RegisterSteps(ctx, tc)
	proposal.RegisterSteps(ctx, tc)
	sms.RegisterSteps(ctx, tc)
}
