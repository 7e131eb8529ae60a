package mcpserver

// PositionFormatContract describes how reading positions are stored in note
// front matter, for LLM consumers that read or edit notes directly.
const PositionFormatContract = `# Pagemark Position Format Contract

Pagemark stores the last-viewed page of a PDF document inside the YAML front
matter of the document's associated Markdown note.

## Structure

` + "```" + `markdown
---
title: Smith 2024                  # other keys are never touched
tags:
  - paper
pdf-view-state:                     # the configured front matter key
  page: 15                          # 0-indexed page, always >= 0
---

Note body. Pagemark never modifies anything below the closing fence.
` + "```" + `

## Rules

1. **The key is configurable** (default ` + "`" + `pdf-view-state` + "`" + `). Everything else in
   the front matter belongs to the user and is preserved on every write.
2. **Canonical form is an object:** ` + "`" + `{page: N}` + "`" + `. The legacy bare-number form
   (` + "`" + `pdf-view-state: 15` + "`" + `) is still read, and is upgraded to the object form
   on the next write.
3. **Pages are 0-indexed.** Presentation (1-indexed display) is the viewer's
   concern. Negative values are ignored as malformed.
4. **The associated note is located by template.** The note path template may
   use ` + "`" + `{{pdf_filename}}` + "`" + `, ` + "`" + `{{pdf_basename}}` + "`" + `, ` + "`" + `{{pdf_folder_path}}` + "`" + ` and
   ` + "`" + `{{pdf_parent_folder_name}}` + "`" + `, and must resolve to a ` + "`" + `.md` + "`" + ` path inside
   the vault. A template without a folder component resolves next to the
   document itself.
5. **File paths** use forward slashes and are vault-relative.

## Example

Document ` + "`" + `Research/Papers/Smith 2024.pdf` + "`" + ` with template
` + "`" + `{{pdf_folder_path}}/@{{pdf_basename}}.md` + "`" + ` stores its page in
` + "`" + `Research/Papers/@Smith 2024.md` + "`" + `.
`
