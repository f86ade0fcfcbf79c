package scrape

import (
	"time"

	"github.com/sahl-financial/sahl_api/internal/config"
)

// Portal describes the bank portal pages. Selectors are CSS.
type Portal struct {
	LoginURL string

	LoginInput string
	// PasswordInput receives the password characters. The CIH portal takes
	// them in the login input itself.
	PasswordInput string
	LoginButton   string
	// LoginError marks the banner the portal shows on rejected credentials.
	LoginError string

	OtpInput  string
	OtpSubmit string
	// OtpError marks the banner the portal shows on a refused code.
	OtpError string

	BalanceContainer string
	BalanceCell      string
}

// DefaultPortal returns the selectors of the CIH online banking portal.
func DefaultPortal(loginURL string) Portal {
	if loginURL == "" {
		loginURL = "https://www.cihnet.co.ma"
	}
	return Portal{
		LoginURL:         loginURL,
		LoginInput:       "input#Main_ctl00_txtHBLogin",
		PasswordInput:    "input#Main_ctl00_txtHBLogin",
		LoginButton:      "button#Main_ctl00_btn",
		LoginError:       "#Main_ctl00_lblError, .alert-danger, .validation-summary-errors",
		OtpInput:         "input#Main_ctl00_txtOtpValue",
		OtpSubmit:        "button#Main_ctl00_btnSendOtp",
		OtpError:         "#Main_ctl00_lblOtpError, .alert-danger",
		BalanceContainer: "#itemPlaceholderContainer",
		BalanceCell:      "#itemPlaceholderContainer tbody tr td:nth-child(3)",
	}
}

// Timing holds every bounded wait and pacing delay of the protocol.
type Timing struct {
	PageLoad time.Duration
	Control  time.Duration
	Balance  time.Duration
	// Keystroke is the pause after each password character.
	Keystroke time.Duration
	// OtpSettle is the pause between typing the code and submitting it.
	OtpSettle time.Duration
}

// TimingFromConfig maps the scrape configuration onto protocol timings.
func TimingFromConfig(cfg config.ScrapeConfig) Timing {
	return Timing{
		PageLoad:  cfg.PageTimeout,
		Control:   cfg.ControlTimeout,
		Balance:   cfg.BalanceTimeout,
		Keystroke: cfg.KeystrokeDelay,
		OtpSettle: cfg.OtpSettleDelay,
	}
}
