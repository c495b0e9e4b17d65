package extraction

// DefaultScanInstructions asks the service for verbatim quotes from one chunk.
const DefaultScanInstructions = `You extract verbatim quotations from the text you are given.

Return exactly one JSON object with key "quotes" mapping to an array. Each element has:
- page_start: the [p.N] page where the quote begins
- page_end: the [p.N] page where the quote ends
- category: a short lower-case category for the quote
- tags: an array of short lower-case tags, most important first
- quote: the exact text, copied character for character

Rules:
- Copy quotes exactly. Never paraphrase, merge, correct or shorten inside a quote.
- Only cite pages that appear in the input.
- If nothing is worth quoting, return {"quotes": []}.`

// CompileInstructions asks the service to arrange one group of quotes into sections.
const CompileInstructions = `ROLE: Quote-only compiler.
INPUT: quotes with fields page_start, page_end, category, tags, quote.
TASK: Produce two Markdown sections, COMPILATIONS and SNIPPETS.

MANDATES:
- Do NOT paraphrase or invent any body text.
- You MAY add headings and short section notes, but quotes must be verbatim.
- After each quote, append a citation like [p.X-Y].
- Keep outputs deterministic and tidy.`

// ItemsInstructions asks the service to reconstruct apps and tools from quoted evidence.
const ItemsInstructions = `ROLE: Product reconstructor.
OBJECTIVE: From the quoted evidence below, infer distinct apps/tools that the author conceived, started, or partially built. DO NOT invent capabilities not suggested by the quotes.

OUTPUT (JSON ONLY):
Return exactly one JSON object with key "apps" mapping to an array of objects. Each object must include:
- title: short, generated (<= 6 words)
- summary: 1-2 sentences grounded in the quotes (no fabrication)
- status: one of {idea, prototype, partial, built, unknown}
- evidence_pages: array of page numbers referenced across the quotes
- names_detected: array of proper names/brands mentioned in the evidence
- evidence_quotes: array of 1-3 representative quotes (verbatim)

Rules:
- You MAY rephrase for title/summary, but keep them faithful to evidence.
- Prefer merging near-duplicates into one item.
- If evidence is thin, mark status "unknown".`
