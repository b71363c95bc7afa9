package notify

const rule = "------------------------------------------------------------"

const helpSection = `WHAT I CAN DO

Pipeline Processing
   Attach your Salesforce pipeline Excel file to any email and I will
   clean the data, apply the template formatting and return a Gantt
   chart workbook.

Template Management
   Send "Adjust Columns" (or "Change Format") and I will send you the
   current template. Reply with "Here" and the modified template
   attached to make it active.

GETTING STARTED

For Pipeline Processing: attach your Excel file to this email thread
For Template Changes: reply with "Adjust Columns"
Need Help: type "Help" anytime`

const signature = `Best regards,
MAG Pipeline Bot`

const helpBody = `MAG Pipeline Automation Assistant

Hello {{.Greeting}}!

` + rule + `

` + helpSection + `

` + rule + `

` + signature + `
`

const unsupportedBody = `Hello {{.Greeting}}!

{{if .Detail}}{{.Detail}}{{else}}I could not tell what you would like me to do with this message.{{end}}

` + rule + `

` + helpSection + `

` + rule + `

` + signature + `
`

const processedBody = `Pipeline Processing Complete

Hello {{.Greeting}}!

Your Salesforce pipeline has been processed. The formatted workbook is attached.

` + rule + `

PROCESSING SUMMARY

Rows written: {{.Rows}}
{{- if .Attachment}}
Attached: {{.Attachment}}{{if .AttachmentSize}} ({{.AttachmentSize}}){{end}}
{{- end}}
{{- with .Report}}
{{- if .Missing}}

Template columns not found in your file (left blank):
{{- range .Missing}}
   - {{.}}
{{- end}}
{{- end}}
{{- if .Extra}}

Columns in your file that are not in the template (dropped):
{{- range .Extra}}
   - {{.}}
{{- end}}
{{- end}}
{{- if .Ambiguous}}

Columns with more than one possible source (left blank):
{{- range .Ambiguous}}
   - {{.Field}}: {{join .Candidates ", "}}
{{- end}}
{{- end}}
{{- if .Flagged}}

Calculated columns missing an input (set to 0):
{{- range .Flagged}}
   - {{.}}
{{- end}}
{{- end}}
{{- if .Unparsed}}

Cells that could not be read as their column type ({{len .Unparsed}}):
{{- range $i, $c := .Unparsed}}{{if lt $i 10}}
   - row {{$c.Row}}, {{$c.Field}}: "{{$c.Raw}}"
{{- end}}{{end}}
{{- end}}
{{- end}}

` + rule + `

` + signature + `

---
Pipeline processed at {{.Time}}
`

const templateSentBody = `Template Customization Request

Hello {{.Greeting}}!

I've attached the current Excel template. You can customize it to match your requirements.

` + rule + `

STEP-BY-STEP INSTRUCTIONS

Step 1: Download the attached template and open it in Excel
Step 2: Add, remove, reorder or rename columns
Step 3: Save the file in .xlsx format
Step 4: Reply to this thread with the subject "Here" and the template attached

` + rule + `

Your request stays open for {{.PendingFor}}.

` + signature + `
`

const templateUpdatedBody = `Template Update Successful

Hello {{.Greeting}}!

Your template has been validated and is now active.
{{- if .BackupKey}}
The previous template was archived as {{.BackupKey}}.
{{- end}}

Attach your Salesforce pipeline Excel files to this thread and they
will be processed with the new format. Send "Adjust Columns" to change
it again.

` + signature + `
`

const templateFailedBody = `There was an issue updating the template.

ERROR DETAILS
{{if .Detail}}{{.Detail}}{{else}}Unknown error occurred{{end}}

Hello {{.Greeting}}!

Your current template has not been changed and I am still waiting for
your modified template.

` + rule + `

QUICK TROUBLESHOOTING

   - Use "Here" as the subject of your reply
   - Attach your Excel file in .xlsx format
   - Make sure the file is not corrupted or password-protected
   - Keep the header row in place and avoid duplicate column names

` + rule + `
{{- if .Admins}}

Contact: {{join .Admins ", "}}
{{- end}}

` + signature + `
`

const unauthorizedBody = `Hello,

This address is not authorized to use the MAG pipeline automation.

` + signature + `
`

const failureBody = `Temporary Processing Issue

Hello {{.Greeting}}!

I encountered a technical issue while processing your request.
System administrators have been notified.

Time: {{.Time}}
{{- if .Admins}}

Direct Contact: {{join .Admins ", "}}
{{- end}}

` + signature + `
`

const alertBody = `URGENT: Pipeline System Alert

System Administrators,

The MAG Salesforce Pipeline Automation system has encountered an error.

` + rule + `

INCIDENT SUMMARY

Time: {{.Time}}
Affected User: {{.Requester}}
Subject: {{.Subject}}
Status: User automatically notified

ERROR DETAILS

{{.Detail}}

` + rule + `

Sent to all error recipients: {{join .Admins ", "}}
`
