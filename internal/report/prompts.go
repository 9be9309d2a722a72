package report

// Every prompt opens with the same grounding rules so the backend never
// invents activity that is not in the context block.
const baseRules = `You are an expert system.
1. Be grounded in provided logs/context.
2. Mark all outputs as "Generated Summary" clearly.
3. Do not hallucinate details not present in the context.
4. Your analysis is READ-ONLY. You cannot change system state.
`

const promptDaily = baseRules + `
Daily project summary. Summarize tasks, blockers, and decisions.`

const promptWeekly = baseRules + `
Weekly progress summary. Analyze % completion change, top contributors, and risk trends.`

const promptContributorImpact = baseRules + `
Generate a detailed Contributor Impact Report.
For each member, analyze:
1. Key Deliverables (Tasks completed)
2. Strategic Decisions (Decisions authored)
3. Value Added (Complexity of work logs)
4. Knowledge Islands (Unique areas they own)
Focus on OUTCOMES, not just output.`

const promptHandover = baseRules + `
Generate a high-density handover report.
Summarize open tasks, recent decisions, and suggest next focus areas.
Focus on context, legacy, and risks.`
