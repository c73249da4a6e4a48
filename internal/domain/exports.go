package domain

import (
	interfaces "wormhole/internal/domain/interfaces"
	types "wormhole/internal/domain/types"
)

// Type aliases expose domain types from the types subpackage for compact imports.
type (
	AppID       = types.AppID
	Side        = types.Side
	Nameplate   = types.Nameplate
	MailboxID   = types.MailboxID
	Phase       = types.Phase
	Mood        = types.Mood
	Result      = types.Result
	UsageRecord = types.UsageRecord
)

// Interface aliases expose domain interfaces from the interfaces subpackage.
type (
	Conn          = interfaces.Conn
	Dialer        = interfaces.Dialer
	DialFunc      = interfaces.DialFunc
	UsageRecorder = interfaces.UsageRecorder
)

const (
	PhasePake    = types.PhasePake
	PhaseVersion = types.PhaseVersion

	MoodHappy  = types.MoodHappy
	MoodLonely = types.MoodLonely
	MoodScary  = types.MoodScary
	MoodErrory = types.MoodErrory

	ResultHappy   = types.ResultHappy
	ResultLonely  = types.ResultLonely
	ResultScary   = types.ResultScary
	ResultErrory  = types.ResultErrory
	ResultCrowded = types.ResultCrowded
	ResultPruney  = types.ResultPruney
)

var (
	NewSide      = types.NewSide
	NumericPhase = types.NumericPhase
)
