package party

import "strconv"

// Command is a notification delivered to a session as a general command.
// Each concrete type carries its own typed payload; Arguments flattens it
// into the string map the clients expect on the wire.
type Command interface {
	CommandName() string
	Arguments() map[string]string
}

type PartyJoin struct {
	UserID             string
	HasPicture         bool
	Name               string
	IsRemoteControlled bool
}

func (PartyJoin) CommandName() string { return "PartyJoin" }
func (c PartyJoin) Arguments() map[string]string {
	return map[string]string{
		"UserId":             c.UserID,
		"HasPicture":         strconv.FormatBool(c.HasPicture),
		"Name":               c.Name,
		"IsRemoteControlled": strconv.FormatBool(c.IsRemoteControlled),
	}
}

type PartyLeave struct {
	Name      string
	IsHosting bool
}

func (PartyLeave) CommandName() string { return "PartyLeave" }
func (c PartyLeave) Arguments() map[string]string {
	return map[string]string{"Name": c.Name, "IsHosting": strconv.FormatBool(c.IsHosting)}
}

type PartyUpdateHost struct {
	Host string
}

func (PartyUpdateHost) CommandName() string { return "PartyUpdateHost" }
func (c PartyUpdateHost) Arguments() map[string]string {
	return map[string]string{"Host": c.Host}
}

type PartyUpdateName struct {
	OldName string
	NewName string
}

func (PartyUpdateName) CommandName() string { return "PartyUpdateName" }
func (c PartyUpdateName) Arguments() map[string]string {
	return map[string]string{"OldName": c.OldName, "NewName": c.NewName}
}

type PartyUpdateRemoteControlled struct {
	Name   string
	Status bool
}

func (PartyUpdateRemoteControlled) CommandName() string { return "PartyUpdateRemoteControlled" }
func (c PartyUpdateRemoteControlled) Arguments() map[string]string {
	return map[string]string{"Name": c.Name, "Status": strconv.FormatBool(c.Status)}
}

type ChatBroadcast struct {
	UserID  string
	Name    string
	Message string
}

func (ChatBroadcast) CommandName() string { return "ChatBroadcast" }
func (c ChatBroadcast) Arguments() map[string]string {
	return map[string]string{"UserId": c.UserID, "Name": c.Name, "Message": c.Message}
}

// ChatExternal is chat that arrived through the bridge from outside the server.
type ChatExternal struct {
	AvatarURL string
	Name      string
	Message   string
}

func (ChatExternal) CommandName() string { return "ChatExternal" }
func (c ChatExternal) Arguments() map[string]string {
	return map[string]string{"AvatarUrl": c.AvatarURL, "Name": c.Name, "Message": c.Message}
}

// PartyLogMessage is a short line for the party log ("Now Playing", "Pause", "Reject"...).
type PartyLogMessage struct {
	Type    string
	Subject string
}

func (PartyLogMessage) CommandName() string { return "PartyLogMessage" }
func (c PartyLogMessage) Arguments() map[string]string {
	return map[string]string{"Type": c.Type, "Subject": c.Subject}
}

type PartyPing struct {
	TS int64
}

func (PartyPing) CommandName() string { return "PartyPing" }
func (c PartyPing) Arguments() map[string]string {
	return map[string]string{"ts": strconv.FormatInt(c.TS, 10)}
}

type PartyPong struct{}

func (PartyPong) CommandName() string           { return "PartyPong" }
func (PartyPong) Arguments() map[string]string { return map[string]string{} }

type PartyRefreshDone struct{}

func (PartyRefreshDone) CommandName() string           { return "PartyRefreshDone" }
func (PartyRefreshDone) Arguments() map[string]string { return map[string]string{} }

type PartySyncStart struct{}

func (PartySyncStart) CommandName() string           { return "PartySyncStart" }
func (PartySyncStart) Arguments() map[string]string { return map[string]string{} }

type PartySyncWaiting struct {
	Name string
}

func (PartySyncWaiting) CommandName() string { return "PartySyncWaiting" }
func (c PartySyncWaiting) Arguments() map[string]string {
	return map[string]string{"Name": c.Name}
}

type PartySyncReset struct {
	Name string
}

func (PartySyncReset) CommandName() string { return "PartySyncReset" }
func (c PartySyncReset) Arguments() map[string]string {
	return map[string]string{"Name": c.Name}
}

type PartySyncEnd struct{}

func (PartySyncEnd) CommandName() string           { return "PartySyncEnd" }
func (PartySyncEnd) Arguments() map[string]string { return map[string]string{} }

// SetAudioStreamIndex and SetSubtitleStreamIndex are native player commands.
type SetAudioStreamIndex struct {
	Index int
}

func (SetAudioStreamIndex) CommandName() string { return "SetAudioStreamIndex" }
func (c SetAudioStreamIndex) Arguments() map[string]string {
	return map[string]string{"Index": strconv.Itoa(c.Index)}
}

type SetSubtitleStreamIndex struct {
	Index int
}

func (SetSubtitleStreamIndex) CommandName() string { return "SetSubtitleStreamIndex" }
func (c SetSubtitleStreamIndex) Arguments() map[string]string {
	return map[string]string{"Index": strconv.Itoa(c.Index)}
}

// IsPlayerCommand reports whether cmd is understood by media players themselves
// rather than by the party client.
func IsPlayerCommand(cmd Command) bool {
	switch cmd.(type) {
	case SetAudioStreamIndex, SetSubtitleStreamIndex:
		return true
	}
	return false
}
