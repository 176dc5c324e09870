package carrier

import (
	"encoding/xml"
	"fmt"
)

// The carrier interprets webhook responses as an XML instruction document.
// Only the verbs this system emits are modeled.

// Response is the root element of a carrier markup document.
type Response struct {
	XMLName xml.Name `xml:"Response"`
	Dial    *Dial    `xml:"Dial,omitempty"`
	Reject  *Reject  `xml:"Reject,omitempty"`
	Hangup  *Hangup  `xml:"Hangup,omitempty"`
}

// Dial bridges the inbound leg to a registered browser client.
type Dial struct {
	CallerID string `xml:"callerId,attr,omitempty"`
	Timeout  int    `xml:"timeout,attr,omitempty"`
	Client   string `xml:"Client"`
}

// Reject refuses the call; the caller hears a busy tone.
type Reject struct {
	Reason string `xml:"reason,attr,omitempty"`
}

// Hangup terminates the call.
type Hangup struct{}

// How long the carrier lets the browser client ring before giving up.
const dialTimeoutSecs = 30

// DialClient renders markup that bridges the call to the named client
// identity, presenting callerID to the callee.
func DialClient(clientIdentity, callerID string) (string, error) {
	return render(&Response{
		Dial: &Dial{
			CallerID: callerID,
			Timeout:  dialTimeoutSecs,
			Client:   clientIdentity,
		},
	})
}

// RejectBusy renders the generic busy response. Every inbound failure
// mode maps to this markup so the network never sees internal errors.
func RejectBusy() (string, error) {
	return render(&Response{Reject: &Reject{Reason: "busy"}})
}

// HangupCall renders markup that ends the call immediately.
func HangupCall() (string, error) {
	return render(&Response{Hangup: &Hangup{}})
}

func render(resp *Response) (string, error) {
	body, err := xml.Marshal(resp)
	if err != nil {
		return "", fmt.Errorf("rendering carrier markup: %w", err)
	}
	return xml.Header + string(body), nil
}
