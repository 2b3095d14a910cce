package chromefield

// bindingName is the page function that reports typed edits and confirm keys
// back to the adapter.
const bindingName = "sniplineField"

// installScript defines window.__snipline once per document. Offsets cross
// the boundary as code point counts; the helpers convert to UTF-16 units.
const installScript = `(() => {
  if (window.__snipline) return true;
  const cps = (s) => Array.from(s).length;
  const units = (s, n) => Array.from(s).slice(0, n).join('').length;
  const find = (sel) => {
    const el = document.querySelector(sel);
    if (!el) throw new Error('snipline: detached');
    return el;
  };
  const isValue = (el) => el instanceof HTMLInputElement || el instanceof HTMLTextAreaElement;
  const content = (el) => isValue(el) ? el.value : el.textContent;
  const check = (el, start, end) => {
    if (start < 0 || end < start || end > cps(content(el))) throw new Error('snipline: range');
  };
  const textNodes = (el) => {
    const walker = document.createTreeWalker(el, NodeFilter.SHOW_TEXT);
    const out = [];
    while (walker.nextNode()) out.push(walker.currentNode);
    return out;
  };
  const locate = (el, n) => {
    for (const node of textNodes(el)) {
      const len = cps(node.data);
      if (n <= len) return [node, units(node.data, n)];
      n -= len;
    }
    const node = document.createTextNode('');
    el.appendChild(node);
    return [node, 0];
  };
  const caret = (el) => {
    if (isValue(el)) {
      const at = el.selectionStart == null ? el.value.length : el.selectionStart;
      return cps(el.value.slice(0, at));
    }
    const sel = window.getSelection();
    if (!sel || !sel.rangeCount || !el.contains(sel.focusNode)) return cps(el.textContent);
    const r = document.createRange();
    r.selectNodeContents(el);
    r.setEnd(sel.focusNode, sel.focusOffset);
    return cps(r.toString());
  };
  const placeAfter = (node) => {
    const r = document.createRange();
    r.setStartAfter(node);
    r.collapse(true);
    const sel = window.getSelection();
    sel.removeAllRanges();
    sel.addRange(r);
  };
  const notify = (el) => {
    el.__sniplineProgram = true;
    try {
      el.dispatchEvent(new InputEvent('input', {bubbles: true, inputType: 'insertReplacementText'}));
    } finally {
      el.__sniplineProgram = false;
    }
  };
  window.__snipline = {
    kind(sel) { return isValue(find(sel)) ? 'value' : 'rich'; },
    text(sel) { return content(find(sel)); },
    cursor(sel) { return caret(find(sel)); },
    setCursor(sel, n) {
      const el = find(sel);
      check(el, n, n);
      if (isValue(el)) {
        const u = units(el.value, n);
        el.setSelectionRange(u, u);
        return true;
      }
      const [node, off] = locate(el, n);
      const r = document.createRange();
      r.setStart(node, off);
      r.collapse(true);
      const sel2 = window.getSelection();
      sel2.removeAllRanges();
      sel2.addRange(r);
      return true;
    },
    replace(sel, start, end, text, ttl) {
      const el = find(sel);
      check(el, start, end);
      if (isValue(el)) {
        const v = el.value;
        const a = units(v, start);
        const b = units(v, end);
        el.value = v.slice(0, a) + text + v.slice(b);
        el.setSelectionRange(a + text.length, a + text.length);
        notify(el);
        return true;
      }
      const [sn, so] = locate(el, start);
      const [en, eo] = locate(el, end);
      const r = document.createRange();
      r.setStart(sn, so);
      r.setEnd(en, eo);
      r.deleteContents();
      let inserted = document.createTextNode(text);
      if (ttl > 0 && text !== '') {
        const mark = document.createElement('span');
        mark.className = 'snipline-highlight';
        mark.style.backgroundColor = 'rgba(255, 214, 0, 0.45)';
        mark.appendChild(inserted);
        inserted = mark;
        setTimeout(() => { if (mark.parentNode) mark.replaceWith(...mark.childNodes); }, ttl);
      }
      r.insertNode(inserted);
      placeAfter(inserted);
      notify(el);
      return true;
    },
    setText(sel, text) {
      const el = find(sel);
      if (isValue(el)) {
        el.value = text;
        el.setSelectionRange(text.length, text.length);
      } else {
        el.textContent = text;
        const [node, off] = locate(el, cps(text));
        const r = document.createRange();
        r.setStart(node, off);
        r.collapse(true);
        const s = window.getSelection();
        s.removeAllRanges();
        s.addRange(r);
      }
      notify(el);
      return true;
    },
    watch(sel, id, pattern) {
      const el = find(sel);
      if (el.__sniplineWatch) return true;
      el.__sniplineWatch = id;
      const re = pattern ? new RegExp(pattern, 'u') : null;
      const send = (msg) => window.` + bindingName + `(JSON.stringify(Object.assign({id: id}, msg)));
      el.addEventListener('input', (ev) => {
        if (el.__sniplineProgram) return;
        send({type: 'edit', data: ev.data || '', at: caret(el)});
      });
      el.addEventListener('keydown', (ev) => {
        if (ev.isComposing) return;
        if (ev.key === 'Escape') {
          send({type: 'key', key: ev.key});
          return;
        }
        if (!re || !['Enter', 'Tab', ' '].includes(ev.key)) return;
        const before = Array.from(content(el)).slice(0, caret(el)).join('');
        if (!re.test(before)) return;
        ev.preventDefault();
        send({type: 'key', key: ev.key});
      });
      return true;
    },
  };
  return true;
})()`
