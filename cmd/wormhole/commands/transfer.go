package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"wormhole/internal/crypto"
	"wormhole/internal/domain"
	"wormhole/internal/wormhole"
)

// offer is what the sender puts in phase 0.
type offer struct {
	Message *string `json:"message,omitempty"`
}

// answer is the receiver's reply in phase 1.
type answer struct {
	MessageAck string `json:"message_ack,omitempty"`
	Error      string `json:"error,omitempty"`
}

var errRejected = errors.New("transfer rejected by peer")

// closeTimeout bounds the close sent after a failed transfer, which may run
// after the command's context ended.
const closeTimeout = 5 * time.Second

// finish closes s. A transfer that failed while the session was still
// healthy is reported to the server as errory; a failed session already
// told the server its mood.
func finish(ctx context.Context, s *wormhole.Session, err error) error {
	if err == nil {
		return s.Close(ctx, s.Mood())
	}
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), closeTimeout)
	defer cancel()
	_ = s.Close(cctx, domain.MoodErrory)
	return err
}

func printVerifier(w io.Writer, s *wormhole.Session) {
	if verify {
		fmt.Fprintf(w, "Verifier %s\n", crypto.VerifierString(s.Verifier()))
	}
}

// sendText runs an exchanged session through one text offer.
func sendText(ctx context.Context, s *wormhole.Session, text string, out io.Writer) error {
	printVerifier(out, s)
	b, err := json.Marshal(offer{Message: &text})
	if err != nil {
		return err
	}
	if err := s.Send(ctx, b); err != nil {
		return err
	}
	raw, err := s.Receive(ctx)
	if err != nil {
		return err
	}
	var a answer
	if err := json.Unmarshal(raw, &a); err != nil {
		return fmt.Errorf("bad answer from peer: %w", err)
	}
	switch {
	case a.Error != "":
		return fmt.Errorf("%w: %s", errRejected, a.Error)
	case a.MessageAck != "ok":
		return fmt.Errorf("unexpected answer from peer: %s", raw)
	}
	fmt.Fprintln(out, "text message sent")
	return nil
}

// receiveText waits for the peer's offer and acknowledges it.
func receiveText(ctx context.Context, s *wormhole.Session, out io.Writer) (string, error) {
	printVerifier(out, s)
	raw, err := s.Receive(ctx)
	if err != nil {
		return "", err
	}
	var o offer
	if err := json.Unmarshal(raw, &o); err != nil || o.Message == nil {
		reply, _ := json.Marshal(answer{Error: "unsupported offer"})
		_ = s.Send(ctx, reply)
		if err == nil {
			err = errors.New("only text messages are supported")
		}
		return "", fmt.Errorf("bad offer from peer: %w", err)
	}
	reply, err := json.Marshal(answer{MessageAck: "ok"})
	if err != nil {
		return "", err
	}
	if err := s.Send(ctx, reply); err != nil {
		return "", err
	}
	return *o.Message, nil
}
