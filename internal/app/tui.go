package app

import (
	"fmt"
	"strings"

	"github.com/jroimartin/gocui"
)

// gui represents a graphical ui with a chat as well
type gui struct {
	*gocui.Gui
	chat *Chat
}

// ReceiveContent may be called from any goroutine, so the view is only
// touched from the gui's own loop
func (g *gui) ReceiveContent(user, content string) {
	g.Update(func(under *gocui.Gui) error {
		msg, err := under.View("messages")
		if err != nil {
			return nil
		}
		fmt.Fprintf(msg, "%s: %s\n", user, content)
		return nil
	})
}

var defaultEditor = gocui.EditorFunc(simpleEditor)

func simpleEditor(v *gocui.View, key gocui.Key, ch rune, mod gocui.Modifier) {
	switch {
	case ch != 0 && ch != 10 && mod == 0:
		v.EditWrite(ch)
	case key == gocui.KeySpace:
		v.EditWrite(' ')
	case key == gocui.KeyBackspace || key == gocui.KeyBackspace2:
		v.EditDelete(true)
	}
}

func inputView(g *gui, maxX, maxY int) error {
	v, err := g.SetView("input", 0, 5*maxY/6+2, maxX-1, maxY-1)
	if err == nil {
		return nil
	}
	if err != gocui.ErrUnknownView {
		return err
	}
	v.Editable = true
	v.Editor = defaultEditor
	sendContent := func(_ *gocui.Gui, v *gocui.View) error {
		content := strings.TrimSuffix(v.Buffer(), "\n")
		if content == "" {
			return nil
		}
		v.Clear()
		if err := v.SetCursor(0, 0); err != nil {
			return err
		}
		var name string
		if _, err := fmt.Sscanf(content, "!nick %s", &name); err != nil {
			g.ReceiveContent("(me) "+g.chat.Handle(), content)
		}
		if err := g.chat.Input(content); err != nil {
			g.ReceiveContent(noticeUser, err.Error())
		}
		return nil
	}
	return g.SetKeybinding("input", gocui.KeyEnter, gocui.ModNone, sendContent)
}

// RunTUI starts the terminal ui for a chat, until ctrl-c
func RunTUI(chat *Chat) error {
	under, err := gocui.NewGui(gocui.OutputNormal)
	if err != nil {
		return err
	}
	defer under.Close()
	g := &gui{Gui: under, chat: chat}
	chat.SetReceiver(g)
	defer chat.SetReceiver(nil)
	g.Cursor = true
	g.SetManagerFunc(func(*gocui.Gui) error {
		return layout(g)
	})
	if err := g.SetKeybinding("", gocui.KeyCtrlC, gocui.ModNone, quit); err != nil {
		return err
	}
	if err := g.MainLoop(); err != nil && err != gocui.ErrQuit {
		return err
	}
	return nil
}

func layout(g *gui) error {
	maxX, maxY := g.Size()
	if v, err := g.SetView("messages", 0, 0, maxX-1, 5*maxY/6+1); err != nil {
		if err != gocui.ErrUnknownView {
			return err
		}
		v.Title = "coalesce: " + g.chat.Handle()
		v.Autoscroll = true
		v.Wrap = true
	}
	if err := inputView(g, maxX, maxY); err != nil {
		return err
	}
	if _, err := g.SetCurrentView("input"); err != nil {
		return err
	}
	return nil
}

func quit(g *gocui.Gui, v *gocui.View) error {
	return gocui.ErrQuit
}
