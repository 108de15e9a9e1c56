package commands

import "encoding/json"

// Merge combines a built-in definition with a stored override into the
// effective definition. Neither input is modified and the result shares no
// containers with them. The id and type always come from def.
func Merge(def Definition, o Override) Definition {
	out := cloneDefinition(def)

	setIf(&out.Name, o.Name)
	setIf(&out.Description, o.Description)
	setIf(&out.BaseCommandDescription, o.BaseCommandDescription)
	setIf(&out.Usage, o.Usage)
	setIf(&out.Trigger, o.Trigger)
	setIf(&out.Active, o.Active)
	setIf(&out.AutoDeleteTrigger, o.AutoDeleteTrigger)
	setIf(&out.ScanWholeMessage, o.ScanWholeMessage)
	setIf(&out.Hidden, o.Hidden)
	setIf(&out.HideCooldowns, o.HideCooldowns)

	if o.Cooldown != nil {
		out.Cooldown = cloneCooldown(o.Cooldown)
	}
	if o.RestrictionData != nil {
		out.RestrictionData = cloneRestrictionData(o.RestrictionData)
	}

	out.Options = mergeOptions(out.Options, o.Options)
	out.SubCommands = mergeSubCommands(out.SubCommands, o.SubCommands)
	return out
}

// mergeOptions keeps the default key set. Overrides may only change the
// stored value and default of an existing option.
func mergeOptions(base map[string]Option, over map[string]Option) map[string]Option {
	if base == nil {
		return nil
	}
	for key, ov := range over {
		opt, ok := base[key]
		if !ok {
			continue
		}
		if ov.Value != nil {
			opt.Value = ov.Value
		}
		if ov.Default != nil {
			opt.Default = ov.Default
		}
		base[key] = opt
	}
	return base
}

// mergeSubCommands keeps exactly the default sub-commands, in default order,
// with per-field overrides applied by identity.
func mergeSubCommands(base []SubCommand, over []SubCommand) []SubCommand {
	if len(base) == 0 || len(over) == 0 {
		return base
	}
	byID := make(map[string]SubCommand, len(over))
	for _, sc := range over {
		byID[sc.Identity()] = sc
	}
	for i, sc := range base {
		ov, ok := byID[sc.Identity()]
		if !ok {
			continue
		}
		if ov.MinArgs != nil {
			sc.MinArgs = ptr(*ov.MinArgs)
		}
		if ov.Active != nil {
			sc.Active = ptr(*ov.Active)
		}
		if ov.Hidden != nil {
			sc.Hidden = ptr(*ov.Hidden)
		}
		if ov.AutoDeleteTrigger != nil {
			sc.AutoDeleteTrigger = ptr(*ov.AutoDeleteTrigger)
		}
		if ov.Cooldown != nil {
			sc.Cooldown = cloneCooldown(ov.Cooldown)
		}
		if ov.RestrictionData != nil {
			sc.RestrictionData = cloneRestrictionData(ov.RestrictionData)
		}
		base[i] = sc
	}
	return base
}

func setIf[T any](dst *T, src *T) {
	if src != nil {
		*dst = *src
	}
}

func cloneDefinition(d Definition) Definition {
	out := d
	out.Cooldown = cloneCooldown(d.Cooldown)
	out.RestrictionData = cloneRestrictionData(d.RestrictionData)
	if d.Options != nil {
		out.Options = make(map[string]Option, len(d.Options))
		for k, v := range d.Options {
			out.Options[k] = v
		}
	}
	if d.SubCommands != nil {
		out.SubCommands = make([]SubCommand, len(d.SubCommands))
		for i, sc := range d.SubCommands {
			out.SubCommands[i] = cloneSubCommand(sc)
		}
	}
	out.Effects = cloneRaw(d.Effects)
	return out
}

func cloneSubCommand(sc SubCommand) SubCommand {
	out := sc
	out.MinArgs = clonePtr(sc.MinArgs)
	out.Active = clonePtr(sc.Active)
	out.Hidden = clonePtr(sc.Hidden)
	out.AutoDeleteTrigger = clonePtr(sc.AutoDeleteTrigger)
	out.Cooldown = cloneCooldown(sc.Cooldown)
	out.RestrictionData = cloneRestrictionData(sc.RestrictionData)
	out.Effects = cloneRaw(sc.Effects)
	return out
}

func cloneCooldown(c *Cooldown) *Cooldown {
	return clonePtr(c)
}

func cloneRestrictionData(rd *RestrictionData) *RestrictionData {
	if rd == nil {
		return nil
	}
	out := *rd
	if rd.Restrictions != nil {
		out.Restrictions = make([]Restriction, len(rd.Restrictions))
		for i, r := range rd.Restrictions {
			r.RoleIDs = cloneStrings(r.RoleIDs)
			r.Usernames = cloneStrings(r.Usernames)
			out.Restrictions[i] = r
		}
	}
	return &out
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneStrings(s []string) []string {
	if s == nil {
		return nil
	}
	return append([]string(nil), s...)
}

func cloneRaw(r json.RawMessage) json.RawMessage {
	if r == nil {
		return nil
	}
	return append(json.RawMessage(nil), r...)
}
