package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"

	"chainchat/discovery"
	"chainchat/messenger"
	"chainchat/models"
	"chainchat/storage"
)

var (
	errorText = color.New(color.FgRed).SprintFunc()
	infoText  = color.New(color.FgGreen).SprintFunc()
)

const maxContentColumn = 60

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printNotice(w io.Writer, notice messenger.Notice) {
	title := infoText(notice.Title)
	if notice.Severity == messenger.SeverityError {
		title = errorText(notice.Title)
	}
	line := title
	if notice.Description != "" {
		line += ": " + notice.Description
	}
	if notice.ExplorerURL != "" {
		line += " (" + notice.ExplorerURL + ")"
	}
	fmt.Fprintln(w, line)
}

func printMessages(w io.Writer, messages []models.Message, now time.Time) {
	if len(messages) == 0 {
		fmt.Fprintln(w, "No messages in the retention window.")
		return
	}

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"When", "Sender", "Status", "Message"})
	table.SetAutoWrapText(false)
	table.SetBorder(false)
	for _, msg := range messages {
		table.Append([]string{
			relativeTime(msg.Timestamp, now),
			models.ShortAddress(msg.Sender),
			statusLabel(msg),
			truncate(msg.Content, maxContentColumn),
		})
	}
	table.Render()
}

func printJournal(w io.Writer, entries []storage.JournalEntry, now time.Time) {
	if len(entries) == 0 {
		fmt.Fprintln(w, "Journal is empty.")
		return
	}

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Submitted", "Status", "Tx", "Block", "Message", "Error"})
	table.SetAutoWrapText(false)
	table.SetBorder(false)
	for _, entry := range entries {
		row := []string{
			relativeTime(time.UnixMilli(entry.SubmittedAt), now),
			entry.Status,
			"",
			"",
			truncate(entry.Content, maxContentColumn/2),
			"",
		}
		if entry.TxHash != nil {
			row[2] = models.ShortHash(*entry.TxHash)
		}
		if entry.BlockNumber != nil {
			row[3] = humanize.Comma(*entry.BlockNumber)
		}
		if entry.Error != nil {
			row[5] = truncate(*entry.Error, maxContentColumn/2)
		}
		table.Append(row)
	}
	table.Render()
}

func printNodes(w io.Writer, nodes []discovery.Node, contract string, chainID uint64) {
	if len(nodes) == 0 {
		fmt.Fprintln(w, "No chainchat nodes found on the local network.")
		return
	}

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Name", "Address", "Port", "Chain", "Same contract"})
	table.SetAutoWrapText(false)
	table.SetBorder(false)
	for _, node := range nodes {
		address := node.HostName
		if len(node.Addresses) > 0 {
			address = node.Addresses[0]
		}
		same := "no"
		if node.SameNetwork(contract, chainID) {
			same = "yes"
		}
		table.Append([]string{
			node.Name,
			address,
			strconv.Itoa(node.Port),
			strconv.FormatUint(node.ChainID, 10),
			same,
		})
	}
	table.Render()
}

func statusLabel(msg models.Message) string {
	if msg.IsRemote {
		return "on-chain"
	}
	return string(msg.Status)
}

func relativeTime(t, now time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return humanize.RelTime(t, now, "ago", "from now")
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit-3]) + "..."
}
