package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/xelth-com/propcount/internal/models"
	"github.com/xelth-com/propcount/internal/physicalcount"
	"github.com/xelth-com/propcount/internal/scanner"
)

// station is the part of the controller the console drives.
type station interface {
	State() physicalcount.PageState
	Rows() []physicalcount.Row
	Summary() physicalcount.Summary
	Toggle(assetID string, verified bool) error
	SelectOffice(office string)
	SetPage(page int)
	SetSearch(search string)
	Reload()
	StartScanner(mode scanner.Mode) error
	StopScanner()
	BulkSave(updates []models.PhysicalCountUpdate, user string) error
}

// console prints the count sheet and scan feedback to a terminal. All
// methods run on the loop.
type console struct {
	w           io.Writer
	lastSummary string
	lastPage    string
	lastRows    map[string]string
}

func newConsole(w io.Writer) *console {
	return &console{w: w, lastRows: make(map[string]string)}
}

func (c *console) feedback(kind scanner.FeedbackKind, msg string) {
	bell := ""
	if kind != scanner.FeedbackSuccess {
		bell = "\a"
	}
	fmt.Fprintf(c.w, "%s[%s] %s\n", bell, kind, msg)
}

func (c *console) notify(level physicalcount.Level, msg string) {
	fmt.Fprintf(c.w, "(%s) %s\n", level, msg)
}

// render prints the whole table after each load, then only rows whose line
// changed, and the summary when it changes.
func (c *console) render(st station) {
	ps := st.State()
	if !ps.Loading {
		page := fmt.Sprintf("%s|%s|%d|%d", ps.Office, ps.Search, ps.Page, ps.Total)
		rows := st.Rows()
		if page != c.lastPage {
			c.lastPage = page
			c.table(ps, rows)
		} else {
			c.changedRows(rows)
		}
	}

	s := st.Summary()
	if !s.Loaded {
		return
	}
	line := summaryLine(s)
	if line != c.lastSummary {
		c.lastSummary = line
		fmt.Fprintln(c.w, line)
	}
}

func (c *console) changedRows(rows []physicalcount.Row) {
	for _, r := range rows {
		line := rowLine(r)
		if prev, ok := c.lastRows[r.Asset.ID]; ok && prev == line {
			continue
		}
		c.lastRows[r.Asset.ID] = line
		fmt.Fprintln(c.w, line)
	}
}

func summaryLine(s physicalcount.Summary) string {
	return fmt.Sprintf("== %s: %d/%d verified, %d missing, %d for repair",
		s.Office, s.VerifiedCount, s.TotalOfficeAssets, s.MissingCount, s.ForRepairCount)
}

func (c *console) table(st physicalcount.PageState, rows []physicalcount.Row) {
	pages := 1
	if st.Limit > 0 && st.Total > 0 {
		pages = int((st.Total + int64(st.Limit) - 1) / int64(st.Limit))
	}
	fmt.Fprintf(c.w, "-- %s page %d/%d (%d assets)\n", st.Office, st.Page, pages, st.Total)
	c.lastRows = make(map[string]string, len(rows))
	for _, r := range rows {
		line := rowLine(r)
		c.lastRows[r.Asset.ID] = line
		fmt.Fprintln(c.w, line)
	}
}

func rowLine(r physicalcount.Row) string {
	mark := "[ ]"
	switch {
	case r.Pending:
		mark = "[~]"
	case r.Verified:
		mark = "[x]"
	}
	return fmt.Sprintf("%s %-12s %-11s %s", mark, r.Asset.PropertyNumber, r.Asset.Status, r.Asset.Description)
}

// command is one parsed operator input line.
type command struct {
	name string
	arg  string
}

func parseCommand(line string) (command, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return command{}, fmt.Errorf("empty command")
	}
	cmd := command{name: strings.ToLower(fields[0]), arg: strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), fields[0]))}
	switch cmd.name {
	case "v", "u", "o", "p", "s", "m", "missing", "repair", "inuse":
		if cmd.arg == "" {
			return cmd, fmt.Errorf("%s needs an argument", cmd.name)
		}
	case "r", "q", "?", "stop", "start":
	default:
		return cmd, fmt.Errorf("unknown command %q", cmd.name)
	}
	return cmd, nil
}

const help = `commands:
  v CODE      verify by property number      u CODE   unverify
  o OFFICE    switch office                  p N      go to page
  s TEXT      search                         r        reload
  m MODE      restart scanner in mode        stop     stop scanner
  missing CODE / repair CODE / inuse CODE    set status and save
  q           quit`

// readCommands parses stdin and runs each command on the loop, where all
// console output happens.
func (c *console) readCommands(ctx context.Context, in *bufio.Scanner, l interface{ Post(func()) bool }, st station, quit func(), operator string) {
	for in.Scan() {
		cmd, err := parseCommand(in.Text())
		if err == nil && cmd.name == "q" {
			quit()
			return
		}
		posted := l.Post(func() {
			if err != nil {
				fmt.Fprintln(c.w, err)
				return
			}
			c.run(st, cmd, operator)
		})
		if !posted || ctx.Err() != nil {
			return
		}
	}
}

func findRow(st station, code string) (physicalcount.Row, bool) {
	for _, r := range st.Rows() {
		if r.Asset.PropertyNumber == code {
			return r, true
		}
	}
	return physicalcount.Row{}, false
}

var statusCommands = map[string]models.AssetStatus{
	"missing": models.StatusMissing,
	"repair":  models.StatusForRepair,
	"inuse":   models.StatusInUse,
}

func (c *console) run(st station, cmd command, operator string) {
	switch cmd.name {
	case "v", "u":
		r, ok := findRow(st, cmd.arg)
		if !ok {
			fmt.Fprintf(c.w, "%s is not on this page\n", cmd.arg)
			return
		}
		if err := st.Toggle(r.Asset.ID, cmd.name == "v"); err != nil {
			fmt.Fprintln(c.w, err)
		}
	case "o":
		st.SelectOffice(cmd.arg)
	case "p":
		n, err := strconv.Atoi(cmd.arg)
		if err != nil {
			fmt.Fprintln(c.w, "page must be a number")
			return
		}
		st.SetPage(n)
	case "s":
		st.SetSearch(cmd.arg)
	case "r":
		st.Reload()
	case "m":
		mode, err := scanner.ParseMode(cmd.arg)
		if err != nil {
			fmt.Fprintln(c.w, err)
			return
		}
		st.StopScanner()
		st.StartScanner(mode)
	case "start":
		st.StartScanner(scanner.Continuous)
	case "stop":
		st.StopScanner()
	case "missing", "repair", "inuse":
		r, ok := findRow(st, cmd.arg)
		if !ok {
			fmt.Fprintf(c.w, "%s is not on this page\n", cmd.arg)
			return
		}
		upd := models.PhysicalCountUpdate{ID: r.Asset.ID, Status: statusCommands[cmd.name], Condition: r.Asset.Condition, Remarks: r.Asset.Remarks}
		if err := st.BulkSave([]models.PhysicalCountUpdate{upd}, operator); err != nil {
			fmt.Fprintln(c.w, err)
		}
	case "?":
		fmt.Fprintln(c.w, help)
	}
}
