package provider

import (
	"context"
)

const placeholderName = "placeholder"

// Placeholder answers with a fixed coaching prompt that quotes the user's
// message. It needs no network access or key.
type Placeholder struct{}

// NewPlaceholder returns the offline provider.
func NewPlaceholder() *Placeholder { return &Placeholder{} }

// Name implements Provider.
func (Placeholder) Name() string { return placeholderName }

// Generate implements Provider.
func (Placeholder) Generate(ctx context.Context, req Request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return PlaceholderReply(req.Message), nil
}

// Stream implements Provider by delivering the whole reply as one chunk.
func (p Placeholder) Stream(ctx context.Context, req Request, onChunk func(string) error) (string, error) {
	reply, err := p.Generate(ctx, req)
	if err != nil {
		return "", err
	}
	if onChunk != nil {
		if err := onChunk(reply); err != nil {
			return reply, err
		}
	}
	return reply, nil
}

// PlaceholderReply is the stub coach reply for message.
func PlaceholderReply(message string) string {
	return "（仮コーチ）\n" +
		"いま一番モヤモヤしているのは、どの場面ですか？\n" +
		"その場面で出てくる感情を、言葉で3つ挙げてください。\n\n" +
		"あなたの入力: 「" + message + "」"
}
