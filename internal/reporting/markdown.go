package reporting

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/nao1215/markdown"
	"github.com/nao1215/markdown/mermaid/piechart"

	"github.com/xkilldash9x/consentscope/api/schemas"
)

// MarkdownReporter renders a German audit report per analysis.
type MarkdownReporter struct {
	w io.WriteCloser
}

// NewMarkdownReporter takes ownership of w.
func NewMarkdownReporter(w io.WriteCloser) *MarkdownReporter {
	return &MarkdownReporter{w: w}
}

func (r *MarkdownReporter) Close() error {
	return r.w.Close()
}

func (r *MarkdownReporter) Write(res *schemas.AnalysisResult) error {
	if res == nil {
		return fmt.Errorf("cannot report a nil analysis")
	}
	md := markdown.NewMarkdown(r.w)

	writeHeader(md, res)
	writeScore(md, res)
	writeIssues(md, res)
	writeGDPR(md, res.GDPR)
	writeDMA(md, res.DMA)
	writeSignals(md, res.Signals)
	writeCookies(md, res)
	writeExperiment(md, res.ConsentExperiment)
	writeTrail(md, res)

	md.HorizontalRule()
	md.PlainText("")
	md.PlainTextf("*Analyse %s, erstellt mit consentscope*", res.ID)
	md.PlainText("")

	if err := md.Build(); err != nil {
		return fmt.Errorf("failed to write markdown report: %w", err)
	}
	return nil
}

func writeHeader(md *markdown.Markdown, res *schemas.AnalysisResult) {
	md.H1("Consent-Audit: " + res.URL)
	md.PlainText("")

	rows := [][]string{
		{"URL", "`" + res.URL + "`"},
	}
	if res.FinalURL != "" && res.FinalURL != res.URL {
		rows = append(rows, []string{"Finale URL", "`" + res.FinalURL + "`"})
	}
	mode := "Vollständig"
	if res.Mode == schemas.ModeQuick {
		mode = "Schnellanalyse"
	}
	rows = append(rows,
		[]string{"Modus", mode},
		[]string{"Zeitpunkt", res.Timestamp.Format("2006-01-02 15:04:05 MST")},
		[]string{"Dauer", res.Duration.Round(100 * time.Millisecond).String()},
		[]string{"Score", "**" + strconv.Itoa(res.Score.Total) + "/100**"},
	)
	md.Table(markdown.TableSet{Header: []string{"Eigenschaft", "Wert"}, Rows: rows})
	md.PlainText("")
}

func writeScore(md *markdown.Markdown, res *schemas.AnalysisResult) {
	s := res.Score
	md.H2("Bewertung")
	md.PlainText("")
	rows := [][]string{
		{"DSGVO-Score", strconv.Itoa(s.GDPRScore)},
		{"Tracking-Basis", strconv.Itoa(s.TrackingBaseline)},
		{"Abzüge", "-" + strconv.Itoa(s.Penalty)},
		{"Boni", "+" + strconv.Itoa(s.Bonus)},
		{"Tracking-Score", strconv.Itoa(s.TrackingScore)},
		{"**Gesamt**", "**" + strconv.Itoa(s.Total) + "**"},
	}
	md.Table(markdown.TableSet{Header: []string{"Kennzahl", "Wert"}, Rows: rows})
	md.PlainText("")
	if len(s.BonusReasons) > 0 {
		md.PlainTextf("Boni für: %s", strings.Join(s.BonusReasons, ", "))
		md.PlainText("")
	}

	errs := res.CountBySeverity(schemas.SeverityError)
	warns := res.CountBySeverity(schemas.SeverityWarning)
	switch {
	case errs > 0:
		md.Cautionf("%d kritische Befunde erfordern sofortiges Handeln.", errs)
	case warns > 0:
		md.Warningf("%d Warnungen sollten geprüft werden.", warns)
	default:
		md.Tip("Keine kritischen Befunde.")
	}
	md.PlainText("")
}

func writeIssues(md *markdown.Markdown, res *schemas.AnalysisResult) {
	md.H2("Befunde")
	md.PlainText("")
	if len(res.Issues) == 0 {
		md.PlainText("Keine Befunde.")
		md.PlainText("")
		return
	}

	groups := []struct {
		sev    schemas.Severity
		header string
	}{
		{schemas.SeverityError, "🔴 Fehler"},
		{schemas.SeverityWarning, "🟡 Warnungen"},
		{schemas.SeverityInfo, "🔵 Hinweise"},
	}
	for _, g := range groups {
		var rows [][]string
		var details []schemas.Issue
		for _, is := range res.Issues {
			if is.Severity != g.sev {
				continue
			}
			rows = append(rows, []string{is.Title, is.Category, orDash(truncate(is.Recommendation, 80))})
			details = append(details, is)
		}
		if len(rows) == 0 {
			continue
		}
		md.H3(g.header)
		md.PlainText("")
		md.Table(markdown.TableSet{Header: []string{"Titel", "Kategorie", "Empfehlung"}, Rows: rows})
		md.PlainText("")
		for _, is := range details {
			if is.Description != "" {
				md.Details(is.Title, is.Description)
			}
		}
		md.PlainText("")
	}
}

func writeGDPR(md *markdown.Markdown, cl schemas.GDPRChecklist) {
	md.H2("DSGVO-Checkliste")
	md.PlainText("")
	md.PlainTextf("%d bestanden, %d nicht bestanden, %d Warnungen, %d nicht anwendbar",
		cl.Passed, cl.Failed, cl.Warnings, cl.NotApplicable)
	md.PlainText("")
	if len(cl.Checks) > 0 {
		md.Table(markdown.TableSet{Header: []string{"Prüfung", "Status", "Begründung"}, Rows: checkRows(cl.Checks)})
		md.PlainText("")
	}
}

func writeDMA(md *markdown.Markdown, dma schemas.DMAChecklist) {
	if !dma.Applicable {
		return
	}
	md.H2("DMA-Checkliste")
	md.PlainText("")
	for _, g := range dma.Gatekeepers {
		md.H3(g.Gatekeeper)
		md.PlainText("")
		if len(g.Platforms) > 0 {
			md.PlainTextf("Plattformen: %s", strings.Join(g.Platforms, ", "))
			md.PlainText("")
		}
		md.Table(markdown.TableSet{Header: []string{"Prüfung", "Status", "Begründung"}, Rows: checkRows(g.Checks)})
		md.PlainText("")
	}
}

func writeSignals(md *markdown.Markdown, sig schemas.Signals) {
	md.H2("Signale")
	md.PlainText("")

	banner := "nicht erkannt"
	if sig.CookieBanner.Detected {
		banner = "erkannt"
		if sig.CookieBanner.CMP != "" {
			banner += " (" + sig.CookieBanner.CMP + ")"
		}
	}
	consentMode := "nicht erkannt"
	if sig.ConsentMode.Detected {
		consentMode = orDash(sig.ConsentMode.Version)
	}
	tcf := "nicht erkannt"
	if sig.TCF.Detected {
		tcf = "erkannt"
		if sig.TCF.ValidString {
			tcf += ", gültiger TC-String"
		}
	}
	md.Table(markdown.TableSet{
		Header: []string{"Signal", "Ergebnis"},
		Rows: [][]string{
			{"Cookie-Banner", banner},
			{"Ablehnen auf erster Ebene", yesNo(sig.CookieBanner.HasRejectButton)},
			{"Google Consent Mode", consentMode},
			{"IAB TCF", tcf},
			{"Serverseitiges Tracking", yesNo(sig.TrackingTags.ServerSideDetected)},
		},
	})
	md.PlainText("")

	if len(sig.TrackingTags.Tags) > 0 {
		md.H3("Tracking-Tags")
		md.PlainText("")
		rows := make([][]string, 0, len(sig.TrackingTags.Tags))
		for _, t := range sig.TrackingTags.Tags {
			rows = append(rows, []string{
				t.Name,
				t.Company,
				orDash(strings.Join(t.IDs, ", ")),
				strings.Join(t.DetectedVia, ", "),
				yesNo(t.FiredOnLoad),
			})
		}
		md.Table(markdown.TableSet{Header: []string{"Tag", "Anbieter", "IDs", "Erkannt über", "Beim Laden aktiv"}, Rows: rows})
		md.PlainText("")
	}

	tp := sig.ThirdPartyDomains
	if !tp.Skipped && len(tp.Domains) > 0 {
		md.H3("Drittanbieter-Domains")
		md.PlainText("")
		rows := make([][]string, 0, len(tp.Domains))
		for _, d := range tp.Domains {
			rows = append(rows, []string{d.Domain, orDash(d.Company), orDash(d.Jurisdiction), strconv.Itoa(d.Requests)})
		}
		md.Table(markdown.TableSet{Header: []string{"Domain", "Unternehmen", "Rechtsraum", "Requests"}, Rows: rows})
		md.PlainText("")
	}
}

func writeCookies(md *markdown.Markdown, res *schemas.AnalysisResult) {
	md.H2("Cookies")
	md.PlainText("")
	if len(res.Cookies) == 0 {
		md.PlainText("Beim Laden wurden keine Cookies gesetzt.")
		md.PlainText("")
		return
	}

	if len(res.CookieSummary.ByCategory) > 0 {
		chart := piechart.NewPieChart(
			io.Discard,
			piechart.WithTitle("Cookies nach Kategorie"),
			piechart.WithShowData(true),
		)
		cats := make([]string, 0, len(res.CookieSummary.ByCategory))
		for c := range res.CookieSummary.ByCategory {
			cats = append(cats, string(c))
		}
		sort.Strings(cats)
		for _, c := range cats {
			if n := res.CookieSummary.ByCategory[schemas.CookieCategory(c)]; n > 0 {
				chart.LabelAndIntValue(c, uint64(n))
			}
		}
		md.CodeBlocks(markdown.SyntaxHighlightMermaid, chart.String())
		md.PlainText("")
	}

	rows := make([][]string, 0, len(res.Cookies))
	for _, c := range res.Cookies {
		lifetime := "Sitzung"
		if !c.IsSession {
			lifetime = strconv.Itoa(c.LifetimeDays) + " Tage"
		}
		rows = append(rows, []string{
			"`" + c.Name + "`",
			c.Domain,
			string(c.Category),
			orDash(c.Service),
			lifetime,
			yesNo(c.SetBeforeConsent),
		})
	}
	md.Table(markdown.TableSet{Header: []string{"Name", "Domain", "Kategorie", "Dienst", "Laufzeit", "Vor Einwilligung"}, Rows: rows})
	md.PlainText("")
}

func writeExperiment(md *markdown.Markdown, exp *schemas.ConsentExperimentResult) {
	if exp == nil {
		return
	}
	md.H2("Consent-Test")
	md.PlainText("")
	if exp.Error != "" {
		md.Warningf("Der Test wurde nicht vollständig ausgeführt: %s", exp.Error)
		md.PlainText("")
	}
	rows := [][]string{
		armRow("Zustimmen", exp.Accept),
		armRow("Ablehnen", exp.Reject),
	}
	md.Table(markdown.TableSet{
		Header: []string{"Aktion", "Schaltfläche", "Methode", "Gewertet als", "Neue Cookies"},
		Rows:   rows,
	})
	md.PlainText("")
	md.PlainTextf("Cookies vor Interaktion: %d, nach Zustimmung: %d, nach Ablehnung: %d",
		len(exp.Before), len(exp.AfterAccept), len(exp.AfterReject))
	md.PlainText("")

	if len(exp.Reject.NewCookies) > 0 {
		names := make([]string, 0, len(exp.Reject.NewCookies))
		for _, k := range exp.Reject.NewCookies {
			names = append(names, "`"+k.Name+"` ("+k.Domain+")")
		}
		md.PlainText("Nach Ablehnung neu gesetzt:")
		md.PlainText("")
		md.BulletList(names...)
		md.PlainText("")
	}
}

func armRow(name string, arm schemas.ConsentArm) []string {
	button := "nicht gefunden"
	if arm.Outcome.Found {
		button = orDash(arm.Outcome.Label)
		if !arm.Outcome.Clicked {
			button += " (nicht geklickt)"
		}
	}
	effective := string(arm.EffectiveAction)
	if arm.Reclassified {
		effective += " (umgewertet)"
	}
	return []string{name, button, string(arm.Outcome.Method), orDash(effective), strconv.Itoa(len(arm.NewCookies))}
}

func writeTrail(md *markdown.Markdown, res *schemas.AnalysisResult) {
	if len(res.Steps) == 0 && len(res.Anomalies) == 0 {
		return
	}
	md.H2("Ablauf")
	md.PlainText("")
	if len(res.Steps) > 0 {
		rows := make([][]string, 0, len(res.Steps))
		for _, s := range res.Steps {
			rows = append(rows, []string{s.Timestamp.Format("15:04:05.000"), s.Step, string(s.Status), orDash(s.Message)})
		}
		md.Table(markdown.TableSet{Header: []string{"Zeit", "Schritt", "Status", "Meldung"}, Rows: rows})
		md.PlainText("")
	}
	if len(res.Anomalies) > 0 {
		md.Note("Einige Signale konnten nicht ausgewertet werden:")
		md.PlainText("")
		md.BulletList(res.Anomalies...)
		md.PlainText("")
	}
}

func checkRows(checks []schemas.ComplianceCheck) [][]string {
	rows := make([][]string, 0, len(checks))
	for _, c := range checks {
		rows = append(rows, []string{c.Title, statusLabel(c.Status), orDash(truncate(c.Justification, 100))})
	}
	return rows
}

func statusLabel(s schemas.CheckStatus) string {
	switch s {
	case schemas.StatusPassed:
		return "✅ bestanden"
	case schemas.StatusFailed:
		return "❌ nicht bestanden"
	case schemas.StatusWarning:
		return "⚠️ Warnung"
	default:
		return "– nicht anwendbar"
	}
}

func yesNo(b bool) string {
	if b {
		return "ja"
	}
	return "nein"
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// truncate shortens s to at most maxLen runes.
func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(r[:maxLen])
	}
	return string(r[:maxLen-3]) + "..."
}
